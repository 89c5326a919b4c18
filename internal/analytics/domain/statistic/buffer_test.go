package statistic

import "testing"

func TestSlidingBufferKeepsLastN(t *testing.T) {
	const capacity = 4
	for k := 0; k <= 6; k++ {
		buf, err := NewSlidingBuffer[int](capacity)
		if err != nil {
			t.Fatalf("new buffer: %v", err)
		}
		total := capacity + k
		for i := 1; i <= total; i++ {
			buf.Push(i)
		}
		if buf.Len() != capacity {
			t.Fatalf("k=%d: expected len %d, got %d", k, capacity, buf.Len())
		}
		values := buf.Values()
		for i, v := range values {
			if want := total - capacity + 1 + i; v != want {
				t.Fatalf("k=%d: expected %v in order, got %v", k, want, values)
			}
		}
	}
}

func TestSlidingBufferPartialFill(t *testing.T) {
	buf, _ := NewSlidingBuffer[float64](10)
	if _, ok := buf.Mean(); ok {
		t.Fatal("expected no mean on empty buffer")
	}
	if _, ok := buf.Oldest(); ok {
		t.Fatal("expected no oldest on empty buffer")
	}
	buf.Push(2)
	buf.Push(4)
	buf.Push(9)
	mean, _ := buf.Mean()
	if mean != 5 {
		t.Fatalf("expected mean 5, got %v", mean)
	}
	oldest, _ := buf.Oldest()
	newest, _ := buf.Newest()
	if oldest != 2 || newest != 9 {
		t.Fatalf("unexpected ends %v/%v", oldest, newest)
	}
	if buf.Len() != 3 || buf.Cap() != 10 {
		t.Fatalf("unexpected len=%d cap=%d", buf.Len(), buf.Cap())
	}
}

func TestNewSlidingBufferRejectsCapacity(t *testing.T) {
	if _, err := NewSlidingBuffer[int](0); err != ErrInvalidCapacity {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
}
