package synonym

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynthiaiii4/TSCBot/internal/tokenize"
)

func testExpander() *Expander {
	return New(tokenize.Fields{}, []Group{
		{"CPC", "中油", "台灣中油"},
		{"點數", "積分"},
		{"中油", "加油站"},
		{"self", "self"},
	})
}

func TestExpander_Symmetric(t *testing.T) {
	t.Parallel()

	e := testExpander()
	for _, term := range e.Terms() {
		for _, syn := range e.Synonyms(term) {
			assert.Contains(t, e.Synonyms(syn), term, "%s -> %s is not symmetric", term, syn)
		}
	}
}

func TestExpander_NeverSelf(t *testing.T) {
	t.Parallel()

	e := testExpander()
	for _, term := range e.Terms() {
		assert.NotContains(t, e.Synonyms(term), term)
	}
	assert.Empty(t, e.Synonyms("self"))
}

func TestExpander_UnionAcrossGroups(t *testing.T) {
	t.Parallel()

	e := testExpander()
	assert.Equal(t, []string{"cpc", "台灣中油", "加油站"}, e.Synonyms("中油"))
	// Normalisation applies to lookups too.
	assert.Equal(t, []string{"中油", "台灣中油"}, e.Synonyms("ＣＰＣ"))
}

func TestExpander_ExpandTokensKeepsOriginalsFirst(t *testing.T) {
	t.Parallel()

	e := testExpander()
	got := e.ExpandTokens([]string{"點數", "如何", "點數", "積分"})
	assert.Equal(t, []string{"點數", "如何", "點數", "積分"}, got)

	got = e.ExpandTokens([]string{"中油", "點數"})
	assert.Equal(t, []string{"中油", "點數", "cpc", "台灣中油", "加油站", "積分"}, got)
}

func TestExpander_ExpandQuery(t *testing.T) {
	t.Parallel()

	e := testExpander()
	got := strings.Fields(e.ExpandQuery("點數 點數 兌換"))
	assert.ElementsMatch(t, []string{"點數", "兌換", "積分"}, got)
	assert.Equal(t, "", e.ExpandQuery(""))
}

func TestExpander_NoGroups(t *testing.T) {
	t.Parallel()

	e := New(tokenize.Fields{}, nil)
	in := []string{"a", "b"}
	assert.Equal(t, in, e.ExpandTokens(in))

	var nilExp *Expander
	assert.Equal(t, in, nilExp.ExpandTokens(in))
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "synonyms.yaml")
	require.NoError(t, os.WriteFile(p, []byte("- [中油, 台灣中油]\n- [點數, 積分, 點]\n"), 0o644))

	groups, err := Load(p)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, Group{"點數", "積分", "點"}, groups[1])

	groups, err = Load("")
	require.NoError(t, err)
	assert.Nil(t, groups)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("groups: {a: b}\n"), 0o644))

	_, err := Load(p)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
