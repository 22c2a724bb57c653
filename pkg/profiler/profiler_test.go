package profiler

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	p := New()
	for i := 1; i <= 20; i++ {
		p.Record("classify", time.Duration(i)*time.Millisecond)
	}

	s := p.Stats("classify")
	assert.Equal(t, 20, s.Count)
	assert.Equal(t, 210*time.Millisecond, s.Total)
	assert.Equal(t, 10500*time.Microsecond, s.Average)
	assert.Equal(t, time.Millisecond, s.Min)
	assert.Equal(t, 20*time.Millisecond, s.Max)
	assert.Equal(t, 20*time.Millisecond, s.P95)

	assert.Equal(t, Stats{Stage: "missing"}, p.Stats("missing"))
}

func TestTime(t *testing.T) {
	p := New()
	tick := time.Unix(0, 0)
	p.now = func() time.Time {
		tick = tick.Add(5 * time.Millisecond)
		return tick
	}

	boom := errors.New("boom")
	err := p.Time("parse", func() error { return boom })
	assert.ErrorIs(t, err, boom)

	s := p.Stats("parse")
	assert.Equal(t, 1, s.Count)
	assert.Equal(t, 5*time.Millisecond, s.Total)
}

func TestConcurrentRecord(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Record("classify", time.Microsecond)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, p.Stats("classify").Count)
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	New().Report(&buf)
	assert.Contains(t, buf.String(), "No timing data")

	p := New()
	p.Record("parse", 1500*time.Microsecond)
	p.Record("classify", 2*time.Second)

	buf.Reset()
	p.Report(&buf)
	out := buf.String()
	require.Contains(t, out, "parse")
	assert.Contains(t, out, "1.50ms")
	assert.Contains(t, out, "2.000s")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("classify")), bytes.Index(buf.Bytes(), []byte("parse")))
}
