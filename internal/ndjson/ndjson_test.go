package ndjson

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_SkipsBlankLinesAndTrims(t *testing.T) {
	r := NewReader(strings.NewReader("{\"a\":1}\n\n  \r\n {\"b\":2} \r\n"))

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(line))

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(line))

	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_LineTooLongIsSkipped(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"within one buffer", strings.Repeat("x", 20) + "\n{\"ok\":1}\n"},
		{"spanning buffers", strings.Repeat("x", 200) + "\n{\"ok\":1}\n"},
		{"unterminated tail", "{\"ok\":1}\n" + strings.Repeat("x", 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReaderSize(strings.NewReader(tt.input), 16)
			var lines []string
			var skipped int
			for {
				line, err := r.ReadLine()
				if errors.Is(err, io.EOF) {
					break
				}
				if errors.Is(err, ErrLineTooLong) {
					skipped++
					continue
				}
				require.NoError(t, err)
				lines = append(lines, string(line))
			}
			assert.Equal(t, 1, skipped)
			assert.Equal(t, []string{`{"ok":1}`}, lines)
		})
	}
}

func TestReader_LastLineWithoutNewline(t *testing.T) {
	r := NewReaderSize(strings.NewReader("a\nb"), 16)
	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "a", string(line))
	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "b", string(line))
	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriter_WritesOneLinePerValue(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var tapped []string
	w.SetTap(func(b []byte) { tapped = append(tapped, string(b)) })

	require.NoError(t, w.Write(map[string]int{"id": 1}))
	require.NoError(t, w.WriteRaw([]byte(`{"method":"initialized"}`)))

	assert.Equal(t, "{\"id\":1}\n{\"method\":\"initialized\"}\n", buf.String())
	assert.Equal(t, []string{`{"id":1}`, `{"method":"initialized"}`}, tapped)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestWriter_ConcurrentWritesDoNotInterleave(t *testing.T) {
	var out lockedBuffer
	w := NewWriter(&out)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = w.Write(map[string]any{"id": i, "payload": strings.Repeat("z", 512)})
		}(i)
	}
	wg.Wait()

	r := NewReader(bytes.NewReader(out.buf.Bytes()))
	count := 0
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(line, []byte(`{"id":`)), "corrupted line %q", line)
		count++
	}
	assert.Equal(t, 50, count)
}
