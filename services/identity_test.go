package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentitySignVerify(t *testing.T) {
	svc, err := NewIdentityService(t.TempDir(), "test-instance")
	require.NoError(t, err)

	data := []byte(`{"hello":"world"}`)
	sig, err := svc.Sign(data)
	require.NoError(t, err)

	// Raw R||S over P-256, zero-padded to the curve size
	assert.Len(t, sig, 128)
	assert.True(t, svc.Verify(data, sig))

	assert.False(t, svc.Verify([]byte(`{"hello":"tampered"}`), sig))
	assert.False(t, svc.Verify(data, "not-hex"))
	assert.False(t, svc.Verify(data, sig[:64]), "truncated signature")
}

func TestIdentityKeyPersistence(t *testing.T) {
	dir := t.TempDir()

	first, err := NewIdentityService(dir, "test-instance")
	require.NoError(t, err)
	second, err := NewIdentityService(dir, "test-instance")
	require.NoError(t, err)

	firstPub, err := first.PublicKeyPEM()
	require.NoError(t, err)
	secondPub, err := second.PublicKeyPEM()
	require.NoError(t, err)

	assert.Equal(t, firstPub, secondPub, "restart reloads the same key")
	assert.True(t, strings.HasPrefix(firstPub, "-----BEGIN PUBLIC KEY-----"))

	// A signature from one instance verifies on the other
	sig, err := first.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.True(t, second.Verify([]byte("payload"), sig))
}

func TestIdentitySignMap(t *testing.T) {
	svc, err := NewIdentityService(t.TempDir(), "test-instance")
	require.NoError(t, err)

	payload := map[string]interface{}{
		"user_id":     "u1",
		"instance_id": "test-instance",
		"expires_at":  int64(1750000000),
	}

	sig, err := svc.SignMap(payload)
	require.NoError(t, err)

	// A verifier rebuilding the canonical form checks the same bytes
	canonical, err := CanonicalJSON(payload)
	require.NoError(t, err)
	assert.True(t, svc.Verify([]byte(canonical), sig))
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"sorted keys", map[string]interface{}{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{"nested", map[string]interface{}{
			"z": map[string]interface{}{"y": "x"},
			"a": []interface{}{1, "two", true},
		}, `{"a":[1,"two",true],"z":{"y":"x"}}`},
		{"integral float collapses", map[string]interface{}{"n": float64(5)}, `{"n":5}`},
		{"fractional float", map[string]interface{}{"n": 2.5}, `{"n":2.5}`},
		{"null and bool", map[string]interface{}{"a": nil, "b": false}, `{"a":null,"b":false}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalJSON(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalJSON_OrderIndependent(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": "two", "z": []interface{}{"a", "b"}}
	b := map[string]interface{}{"z": []interface{}{"a", "b"}, "y": "two", "x": 1}

	ca, err := CanonicalJSON(a)
	require.NoError(t, err)
	cb, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestCanonicalJSON_UnsupportedType(t *testing.T) {
	_, err := CanonicalJSON(map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
}
