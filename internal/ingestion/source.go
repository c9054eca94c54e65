package ingestion

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// InferSourceName derives a stable source label for an import location when
// the caller does not name one explicitly. The --source flag always wins.
//
// Supported patterns:
//
//	docs.google.com/spreadsheets/d/{id}/export?format=csv&gid={gid}  -> sheet-{gid}
//	https://host/path/faq.csv                                        -> faq
//	./data/中油點數.csv                                              -> 中油點數
func InferSourceName(location string) string {
	if isRemote(location) {
		u, err := url.Parse(location)
		if err != nil {
			return "default"
		}
		if strings.Contains(u.Host, "docs.google.com") && strings.Contains(u.Path, "/spreadsheets/") {
			if gid := u.Query().Get("gid"); gid != "" {
				return "sheet-" + gid
			}
			return "sheet-0"
		}
		if name := trimExt(path.Base(u.Path)); name != "" && name != "." && name != "/" {
			return name
		}
		return u.Host
	}

	if name := trimExt(filepath.Base(location)); name != "" && name != "." {
		return name
	}
	return "default"
}

// isRemote reports whether location is an HTTP(S) URL.
func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
