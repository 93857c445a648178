package http2

import "sync"

// HeaderField is one decoded or about-to-be-encoded HPACK field: a
// key/value pair plus the sensitivity bit RFC 7541 §7.1.3 uses to force
// "never indexed" encoding.
//
// Acquire/Release-pooled; not safe for concurrent use by more than one
// goroutine at a time.
type HeaderField struct {
	key, value []byte
	sensitive  bool
}

var headerFieldPool = sync.Pool{
	New: func() interface{} { return &HeaderField{} },
}

// AcquireHeaderField gets a HeaderField from the pool.
func AcquireHeaderField() *HeaderField {
	return headerFieldPool.Get().(*HeaderField)
}

// ReleaseHeaderField resets hf and returns it to the pool.
func ReleaseHeaderField(hf *HeaderField) {
	hf.Reset()
	headerFieldPool.Put(hf)
}

// Reset clears hf's key, value and sensitivity bit.
func (hf *HeaderField) Reset() {
	hf.key = hf.key[:0]
	hf.value = hf.value[:0]
	hf.sensitive = false
}

// Set assigns both key and value from strings.
func (hf *HeaderField) Set(k, v string) {
	hf.SetKey(k)
	hf.SetValue(v)
}

// Key returns the field's name.
func (hf *HeaderField) Key() string { return string(hf.key) }

// Value returns the field's value.
func (hf *HeaderField) Value() string { return string(hf.value) }

// KeyBytes returns the field's name without a copy.
func (hf *HeaderField) KeyBytes() []byte { return hf.key }

// ValueBytes returns the field's value without a copy.
func (hf *HeaderField) ValueBytes() []byte { return hf.value }

// SetKey copies key into hf.
func (hf *HeaderField) SetKey(key string) {
	hf.key = append(hf.key[:0], key...)
}

// SetValue copies value into hf.
func (hf *HeaderField) SetValue(value string) {
	hf.value = append(hf.value[:0], value...)
}

// SetKeyBytes copies key into hf.
func (hf *HeaderField) SetKeyBytes(key []byte) {
	hf.key = append(hf.key[:0], key...)
}

// SetValueBytes copies value into hf.
func (hf *HeaderField) SetValueBytes(value []byte) {
	hf.value = append(hf.value[:0], value...)
}

// IsPseudo reports whether the field name starts with ':' (RFC 7540 §8.1.2.1).
func (hf *HeaderField) IsPseudo() bool {
	return len(hf.key) > 0 && hf.key[0] == ':'
}

// IsSensitive reports whether hf was marked as never-indexed.
func (hf *HeaderField) IsSensitive() bool { return hf.sensitive }
