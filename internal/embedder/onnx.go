package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// Local multilingual sentence encoder defaults
// (paraphrase-multilingual-MiniLM-L12-v2 exported to ONNX).
const (
	defaultONNXModel      = "paraphrase-multilingual-MiniLM-L12-v2"
	defaultONNXDimensions = 384
	defaultONNXMaxSeqLen  = 128
)

// ONNXConfig holds the settings for constructing an ONNXEncoder.
type ONNXConfig struct {
	// RuntimeLib is the path to the onnxruntime shared library. Empty uses
	// the platform default search path.
	RuntimeLib string
	// ModelPath is the sentence-transformer exported to ONNX.
	ModelPath string
	// TokenizerPath is the HuggingFace tokenizer.json matching the model.
	TokenizerPath string
	// Dimensions is the hidden size of the model output.
	Dimensions int
	// MaxSeqLen truncates inputs to this many tokens.
	MaxSeqLen int
	// TokenTypeIDs adds a token_type_ids input (BERT exports need it,
	// XLM-R exports reject it).
	TokenTypeIDs bool
}

var ortEnv struct {
	once sync.Once
	err  error
}

// initRuntime loads the onnxruntime library once per process.
func initRuntime(lib string) error {
	ortEnv.once.Do(func() {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXEncoder implements rag.Embedder with a local ONNX sentence encoder:
// token embeddings are mean-pooled over the attention mask and
// L2-normalised, so dot products equal cosine similarity.
type ONNXEncoder struct {
	cfg     ONNXConfig
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession

	// mu serialises tokenizer and session use.
	mu sync.Mutex
}

// NewONNXEncoder loads the tokenizer and model. It is expensive; callers
// hold one instance per process (see Lazy).
func NewONNXEncoder(cfg ONNXConfig) (*ONNXEncoder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, errors.New("onnx embedder: model path and tokenizer path are required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultONNXDimensions
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = defaultONNXMaxSeqLen
	}

	if err := initRuntime(cfg.RuntimeLib); err != nil {
		return nil, fmt.Errorf("onnx embedder: init runtime: %w", err)
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: load tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	inputs := []string{"input_ids", "attention_mask"}
	if cfg.TokenTypeIDs {
		inputs = append(inputs, "token_type_ids")
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputs, []string{"last_hidden_state"}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: load model %s: %w", cfg.ModelPath, err)
	}

	return &ONNXEncoder{cfg: cfg, tk: tk, session: session}, nil
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *ONNXEncoder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("onnx embedder: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	batch, err := e.encodeBatch(texts)
	if err != nil {
		return nil, err
	}
	hidden, err := e.run(batch)
	if err != nil {
		return nil, err
	}
	return meanPool(hidden, batch.mask, len(texts), batch.seqLen, e.cfg.Dimensions), nil
}

// Close releases the session.
func (e *ONNXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// tokenBatch is a right-padded batch of token ids, row-major.
type tokenBatch struct {
	ids    []int64
	mask   []int64
	types  []int64
	seqLen int
}

func (e *ONNXEncoder) encodeBatch(texts []string) (*tokenBatch, error) {
	type row struct{ ids, mask, types []int }
	rows := make([]row, len(texts))
	seqLen := 1
	for i, t := range texts {
		enc, err := e.tk.EncodeSingle(t, true)
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: tokenize text %d: %w", i, err)
		}
		r := row{ids: enc.Ids, mask: enc.AttentionMask, types: enc.TypeIds}
		if len(r.ids) > e.cfg.MaxSeqLen {
			// Keep the closing special token.
			last := r.ids[len(r.ids)-1]
			r.ids = append(r.ids[:e.cfg.MaxSeqLen-1:e.cfg.MaxSeqLen-1], last)
			r.mask = r.mask[:e.cfg.MaxSeqLen]
			if len(r.types) > e.cfg.MaxSeqLen {
				r.types = r.types[:e.cfg.MaxSeqLen]
			}
		}
		rows[i] = r
		seqLen = max(seqLen, len(r.ids))
	}

	b := &tokenBatch{
		ids:    make([]int64, len(texts)*seqLen),
		mask:   make([]int64, len(texts)*seqLen),
		types:  make([]int64, len(texts)*seqLen),
		seqLen: seqLen,
	}
	for i, r := range rows {
		off := i * seqLen
		for j, id := range r.ids {
			b.ids[off+j] = int64(id)
			if j < len(r.mask) {
				b.mask[off+j] = int64(r.mask[j])
			} else {
				b.mask[off+j] = 1
			}
			if j < len(r.types) {
				b.types[off+j] = int64(r.types[j])
			}
		}
	}
	return b, nil
}

func (e *ONNXEncoder) run(b *tokenBatch) ([]float32, error) {
	if e.session == nil {
		return nil, errors.New("onnx embedder: encoder is closed")
	}
	n := int64(len(b.ids) / b.seqLen)
	shape := ort.NewShape(n, int64(b.seqLen))

	idsT, err := ort.NewTensor(shape, b.ids)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, b.mask)
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()

	inputs := []ort.Value{idsT, maskT}
	if e.cfg.TokenTypeIDs {
		typesT, err := ort.NewTensor(shape, b.types)
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: token_type_ids tensor: %w", err)
		}
		defer typesT.Destroy()
		inputs = append(inputs, typesT)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(n, int64(b.seqLen), int64(e.cfg.Dimensions)))
	if err != nil {
		return nil, fmt.Errorf("onnx embedder: output tensor: %w", err)
	}
	defer out.Destroy()

	if err := e.session.Run(inputs, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx embedder: run: %w", err)
	}
	// GetData aliases tensor memory that Destroy frees.
	return append([]float32(nil), out.GetData()...), nil
}

// meanPool averages token vectors where mask is 1, then L2-normalises.
// hidden is [n, seqLen, dim] row-major.
func meanPool(hidden []float32, mask []int64, n, seqLen, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range n {
		sum := make([]float64, dim)
		var count float64
		for j := range seqLen {
			if mask[i*seqLen+j] == 0 {
				continue
			}
			count++
			tok := hidden[(i*seqLen+j)*dim : (i*seqLen+j+1)*dim]
			for k, v := range tok {
				sum[k] += float64(v)
			}
		}
		vec := make([]float32, dim)
		if count == 0 {
			out[i] = vec
			continue
		}
		var norm float64
		for k := range sum {
			sum[k] /= count
			norm += sum[k] * sum[k]
		}
		norm = math.Sqrt(norm)
		for k := range sum {
			if norm > 0 {
				vec[k] = float32(sum[k] / norm)
			}
		}
		out[i] = vec
	}
	return out
}
