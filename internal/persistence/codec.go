package persistence

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/celsiustx/metaflow/pkg/api"
)

var registerOnce sync.Once

// registerCommon makes the container types most step functions produce
// encodable behind an interface.
func registerCommon() {
	registerOnce.Do(func() {
		gob.Register([]any{})
		gob.Register(map[string]any{})
		gob.Register(map[string]string{})
		gob.Register(map[string]int{})
	})
}

// RegisterType makes values of v's concrete type storable as artifacts.
func RegisterType(v any) {
	registerCommon()
	gob.Register(v)
}

// EncodeArtifact serializes an artifact value. The value is encoded behind
// an interface so DecodeArtifact can restore its dynamic type. A nil value
// encodes to an empty payload.
func EncodeArtifact(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	registerCommon()
	var buf bytes.Buffer
	iv := v
	if err := gob.NewEncoder(&buf).Encode(&iv); err != nil {
		return nil, fmt.Errorf("encode artifact of type %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// DecodeArtifact restores a value encoded by EncodeArtifact. Payloads that
// were written as a bare concrete value are decoded into the first common
// type that accepts them.
func DecodeArtifact(data []byte) (any, error) {
	registerCommon()
	if len(data) == 0 {
		return nil, nil
	}
	var iv any
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv)
	if err == nil {
		return iv, nil
	}
	if !mustRetryAsConcrete(err) {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return decodeCommonConcrete(data)
}

// DecodeValue decodes data into T, accepting both interface-encoded and
// concrete payloads. A payload holding another type fails with
// ErrTypeMismatch.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	v, err := DecodeArtifact(data)
	if err == nil {
		if v == nil {
			return zero, nil
		}
		if t, ok := v.(T); ok {
			return t, nil
		}
	}
	var t T
	if derr := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); derr != nil {
		if err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, reflect.TypeFor[T]())
	}
	return t, nil
}

func decodeCommonConcrete(data []byte) (any, error) {
	candidates := []any{
		new(string), new([]byte), new(int), new(int64), new(float64), new(bool),
		new(map[string]any), new([]any), new([]string), new([]int),
	}
	for _, c := range candidates {
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(c); err == nil {
			return reflect.ValueOf(c).Elem().Interface(), nil
		}
	}
	return nil, errors.New("gob: no common concrete type matches the payload")
}

func mustRetryAsConcrete(err error) bool {
	s := err.Error()
	return strings.Contains(s, "can only be decoded from remote interface") &&
		strings.Contains(s, "received concrete type")
}

// Fingerprint returns the content address of an encoded artifact.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// runTasks wraps a task list so an empty list still encodes.
type runTasks struct {
	Tasks []api.TaskInfo
}

func encodeTasks(tasks []api.TaskInfo) ([]byte, error) {
	return encodeGob(runTasks{Tasks: tasks})
}

func decodeTasks(data []byte) ([]api.TaskInfo, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rt runTasks
	if err := decodeGob(data, &rt); err != nil {
		return nil, err
	}
	return rt.Tasks, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
