package zorder

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
)

func TestInt32OrderingMatchesByteOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 20000; i++ {
		a := int32(r.Uint32())
		b := int32(r.Uint32())

		wantSign := sign(compareInt32(a, b))
		gotSign := sign(bytes.Compare(EncodeInt32(a), EncodeInt32(b)))
		if wantSign != gotSign {
			t.Fatalf("int32 ordering mismatch: a=%d b=%d want=%d got=%d", a, b, wantSign, gotSign)
		}
	}
}

func TestInt64OrderingMatchesByteOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		a := r.Int63() - r.Int63()
		b := r.Int63() - r.Int63()

		wantSign := sign(compareInt64(a, b))
		gotSign := sign(bytes.Compare(EncodeInt64(a), EncodeInt64(b)))
		if wantSign != gotSign {
			t.Fatalf("int64 ordering mismatch: a=%d b=%d want=%d got=%d", a, b, wantSign, gotSign)
		}
	}
}

func TestFloat32OrderingMatchesByteOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 20000; i++ {
		a := r.Float32()*2 - 1
		b := r.Float32()*2 - 1
		if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
			continue
		}

		wantSign := sign(compareFloat64(float64(a), float64(b)))
		gotSign := sign(bytes.Compare(EncodeFloat32(a), EncodeFloat32(b)))
		if wantSign != gotSign {
			t.Fatalf("float32 ordering mismatch: a=%v b=%v want=%d got=%d", a, b, wantSign, gotSign)
		}
	}
}

func TestFloat64OrderingMatchesByteOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(13))
	for i := 0; i < 20000; i++ {
		a := r.Float64()*2 - 1
		b := r.Float64()*2 - 1

		wantSign := sign(compareFloat64(a, b))
		gotSign := sign(bytes.Compare(EncodeFloat64(a), EncodeFloat64(b)))
		if wantSign != gotSign {
			t.Fatalf("float64 ordering mismatch: a=%v b=%v want=%d got=%d", a, b, wantSign, gotSign)
		}
	}
}

func TestFloat64NegativeZeroPrecedesPositiveZero(t *testing.T) {
	neg := EncodeFloat64(math.Copysign(0, -1))
	pos := EncodeFloat64(0)
	if bytes.Compare(neg, pos) >= 0 {
		t.Fatalf("expected encode(-0.0) < encode(+0.0), got %v >= %v", neg, pos)
	}
}

func TestInt32NegativeOnePrecedesZero(t *testing.T) {
	neg := EncodeInt32(-1)
	zero := EncodeInt32(0)
	if bytes.Compare(neg, zero) >= 0 {
		t.Fatalf("expected encode(-1) < encode(0), got %v >= %v", neg, zero)
	}
}

func TestStringOrderingMatchesCodePointOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	alphabet := []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	randString := func() string {
		n := r.Intn(20) + 1
		buf := make([]rune, n)
		for i := range buf {
			buf[i] = alphabet[r.Intn(len(alphabet))]
		}
		return string(buf)
	}

	for i := 0; i < 20000; i++ {
		a := randString()
		b := randString()

		wantSign := sign(compareStrings(a, b))
		gotSign := sign(bytes.Compare(EncodeString(a, DefaultStringWidth), EncodeString(b, DefaultStringWidth)))
		if wantSign != gotSign {
			t.Fatalf("string ordering mismatch: a=%q b=%q want=%d got=%d", a, b, wantSign, gotSign)
		}
	}
}

func TestStringTruncatesAndPadsToCap(t *testing.T) {
	got := EncodeString("hi", 5)
	want := []byte{'h', 'i', 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	got = EncodeString("abcdefgh", 4)
	want = []byte{'a', 'b', 'c', 'd'}
	if !bytes.Equal(got, want) {
		t.Fatalf("truncation: got %v want %v", got, want)
	}
}

func sign(x int) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	default:
		return 0
	}
}

func compareInt32(a, b int32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
