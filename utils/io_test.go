package utils_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/n-peugnet/xdstream/utils"
)

func TestNopCloser(t *testing.T) {
	var buff bytes.Buffer
	w := utils.NopCloser(&buff)
	w.Close()
	n, err := buff.WriteString("test")
	if err != nil {
		t.Error(err)
	}
	if n != 4 {
		t.Error("expected: 4, actual:", n)
	}
}

type wrapper struct {
	n string
	r utils.ReadWrapper
	w utils.WriteWrapper
}

var wrappers = []wrapper{
	{"Zlib", utils.ZlibReader, utils.ZlibWriter},
	{"Nop", utils.NopReadWrapper, utils.NopWriteWrapper},
}

func TestWrappers(t *testing.T) {
	for _, wrapper := range wrappers {
		var buff bytes.Buffer
		var err error
		w := wrapper.w(&buff)
		n, err := w.Write([]byte("test"))
		if err != nil {
			t.Error(wrapper.n, err)
		}
		if n != 4 {
			t.Error(wrapper.n, "expected: 4, actual:", n)
		}
		err = w.Close()
		if err != nil {
			t.Error(wrapper.n, err)
		}
		r, err := wrapper.r(&buff)
		if err != nil {
			t.Error(wrapper.n, err)
		}
		b := make([]byte, 4)
		n, err = r.Read(b)
		if n != 4 {
			t.Error(wrapper.n, "expected: 4, actual:", n)
		}
		if err != nil && err != io.EOF {
			t.Error(wrapper.n, err)
		}
		if !bytes.Equal(b, []byte("test")) {
			t.Errorf("%s, expected: %q, actual: %q", wrapper.n, "test", b)
		}
	}
}

// shortWriter accepts at most 3 bytes per call.
type shortWriter struct {
	buff bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return w.buff.Write(p)
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("write failed")
}

func TestWriteAll(t *testing.T) {
	var w shortWriter
	data := []byte("0123456789abcdef")
	if err := utils.WriteAll(&w, data); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(w.buff.Bytes(), data) {
		t.Errorf("expected: %q, actual: %q", data, w.buff.Bytes())
	}
	if err := utils.WriteAll(failWriter{}, data); err == nil {
		t.Error("expected an error from a failing writer")
	}
}
