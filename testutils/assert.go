package testutils

import (
	"bytes"
	"reflect"
	"testing"
)

func AssertSame(t *testing.T, expected interface{}, actual interface{}, prefix string) {
	if !reflect.DeepEqual(expected, actual) {
		t.Error(prefix, "do not match, expected:", expected, ", actual:", actual)
	}
}

func AssertSameBytes(t *testing.T, expected []byte, actual []byte, prefix string) {
	if !bytes.Equal(expected, actual) {
		t.Errorf("%s do not match, expected: %d bytes, actual: %d bytes", prefix, len(expected), len(actual))
	}
}

func AssertLen(t *testing.T, expected int, actual interface{}, prefix string) {
	s := reflect.ValueOf(actual)
	if s.Len() != expected {
		t.Fatal(prefix, "incorrect length, expected:", expected, ", actual:", s.Len())
	}
}

func AssertNoError(t *testing.T, err error, prefix string) {
	if err != nil {
		t.Fatalf("%s unexpected error: %s", prefix, err)
	}
}
