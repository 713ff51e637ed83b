package compleconta

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "ErrTaxonNotFound", err: ErrTaxonNotFound, want: "taxon not found"},
		{name: "ErrMalformedDump", err: ErrMalformedDump, want: "malformed taxonomy dump"},
		{name: "ErrCandidateLookup", err: ErrCandidateLookup, want: "candidate lookup failed"},
		{name: "ErrInvalidConfig", err: ErrInvalidConfig, want: "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "basic error",
			err:  NewNotFoundError("taxonomy.Store.Node", ErrTaxonNotFound),
			want: "compleconta: taxonomy.Store.Node (not_found): taxon not found",
		},
		{
			name: "without underlying error",
			err:  &Error{Op: "lca.Config.Validate", Kind: KindConfiguration},
			want: "compleconta: lca.Config.Validate: configuration",
		},
		{
			name: "wrapped cause",
			err:  NewParseError("taxonomy.Build", fmt.Errorf("nodes.dmp line 3: %w", ErrMalformedDump)),
			want: "compleconta: taxonomy.Build (parse): nodes.dmp line 3: malformed taxonomy dump",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}

	withCtx := NewNotFoundError("op", ErrTaxonNotFound).WithContext(map[string]any{"taxid": 42})
	assert.Contains(t, withCtx.Error(), "[context: map[taxid:42]]")
}

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "underlying sentinel",
			err:    NewNotFoundError("taxonomy.Store.Node", ErrTaxonNotFound),
			target: ErrTaxonNotFound,
			want:   true,
		},
		{
			name:   "wrapped sentinel",
			err:    NewCandidateLookupError("search.Blast", fmt.Errorf("blastp: %w", ErrCandidateLookup)),
			target: ErrCandidateLookup,
			want:   true,
		},
		{
			name:   "kind match",
			err:    NewParseError("taxonomy.Build", errors.New("bad line")),
			target: &Error{Kind: KindParse},
			want:   true,
		},
		{
			name:   "kind and op match",
			err:    NewParseError("taxonomy.Build", errors.New("bad line")),
			target: &Error{Op: "taxonomy.Build", Kind: KindParse},
			want:   true,
		},
		{
			name:   "kind match op mismatch",
			err:    NewParseError("taxonomy.Build", errors.New("bad line")),
			target: &Error{Op: "taxonomy.Load", Kind: KindParse},
			want:   false,
		},
		{
			name:   "different kind",
			err:    NewParseError("taxonomy.Build", errors.New("bad line")),
			target: &Error{Kind: KindNotFound},
			want:   false,
		},
		{
			name:   "nil target",
			err:    NewParseError("taxonomy.Build", errors.New("bad line")),
			target: nil,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestErrorAsThroughWrapping(t *testing.T) {
	base := NewNotFoundError("taxonomy.Store.Ascendants", ErrTaxonNotFound)
	wrapped := fmt.Errorf("sequence seq1: %w", base)

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, KindNotFound, e.Kind)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, "", KindOf(errors.New("plain")))
}

func TestKindPredicates(t *testing.T) {
	notFound := fmt.Errorf("lookup: %w", NewNotFoundError("op", errors.New("taxid 9")))
	parse := NewParseError("op", errors.New("short line"))
	lookup := NewCandidateLookupError("op", errors.New("exit status 2"))

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(parse))
	assert.True(t, IsNotFound(ErrTaxonNotFound))

	assert.True(t, IsParse(parse))
	assert.False(t, IsParse(lookup))

	assert.True(t, IsCandidateLookup(lookup))
	assert.False(t, IsCandidateLookup(notFound))
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	orig := NewParseError("taxonomy.Build", ErrMalformedDump).WithContext(map[string]any{"line": 3})
	derived := orig.WithContext(map[string]any{"file": "nodes.dmp"})

	assert.Len(t, orig.Context, 1)
	assert.Len(t, derived.Context, 2)
	assert.Equal(t, "nodes.dmp", derived.Context["file"])
	assert.Equal(t, 3, derived.Context["line"])
}

type mockCloser struct {
	closeErr   error
	closeCalls int
}

func (m *mockCloser) Close() error {
	m.closeCalls++
	return m.closeErr
}

func TestCloseWithLog(t *testing.T) {
	t.Run("nil closer", func(t *testing.T) {
		var logBuf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logBuf, nil))

		CloseWithLog(nil, logger, "names.dmp")

		assert.Empty(t, logBuf.String())
	})

	t.Run("successful close", func(t *testing.T) {
		closer := &mockCloser{}
		var logBuf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logBuf, nil))

		CloseWithLog(closer, logger, "names.dmp")

		assert.Equal(t, 1, closer.closeCalls)
		assert.Empty(t, logBuf.String())
	})

	t.Run("close error is logged", func(t *testing.T) {
		closer := &mockCloser{closeErr: errors.New("close failed: resource busy")}
		var logBuf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logBuf, nil))

		CloseWithLog(closer, logger, "nodes.dmp")

		out := logBuf.String()
		assert.Contains(t, out, "failed to close resource")
		assert.Contains(t, out, "nodes.dmp")
		assert.Contains(t, out, "close failed")
		assert.Contains(t, out, "level=WARN")
	})

	t.Run("nil logger", func(t *testing.T) {
		closer := &mockCloser{closeErr: errors.New("test error")}
		require.NotPanics(t, func() {
			CloseWithLog(closer, nil, "scratch dir")
		})
		assert.Equal(t, 1, closer.closeCalls)
	})

	t.Run("real closer", func(t *testing.T) {
		var logBuf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logBuf, nil))

		r, w := io.Pipe()
		require.NoError(t, w.Close())
		CloseWithLog(r, logger, "pipe reader")

		assert.Empty(t, logBuf.String())
	})
}
