package audit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/guardrail/keys"
)

func newTestSigner(t *testing.T) (*Signer, keys.Manager) {
	t.Helper()
	km, err := keys.NewStaticManager([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return NewSigner(km), km
}

func TestSigner_SignAndVerify(t *testing.T) {
	s, _ := newTestSigner(t)

	e := NewEvent(EventTypeAccess, SeverityInfo, "operation granted").
		WithOperation("analyze").
		WithClientID("client-1").
		WithMetadata("size", 42)

	require.NoError(t, s.Sign(e))
	assert.NotEmpty(t, e.Signature)
	assert.Equal(t, uint32(1), e.SignatureKeyVersion)

	assert.True(t, s.Verify(e))
}

func TestSigner_VerifyFailsAfterMutation(t *testing.T) {
	s, _ := newTestSigner(t)

	e := NewEvent(EventTypeViolation, SeverityWarning, "denied").
		WithOperation("analyze").
		WithResult("denied")
	require.NoError(t, s.Sign(e))
	require.True(t, s.Verify(e))

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"message", func(e *Event) { e.Message = "granted" }},
		{"severity", func(e *Event) { e.Severity = SeverityInfo }},
		{"operation", func(e *Event) { e.Operation = "other" }},
		{"result", func(e *Event) { e.Result = "granted" }},
		{"metadata", func(e *Event) { e.Metadata = map[string]any{"injected": true} }},
		{"tag", func(e *Event) { e.Tags = append(e.Tags, "extra") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clone := *e
			if e.Metadata != nil {
				clone.Metadata = map[string]any{}
				for k, v := range e.Metadata {
					clone.Metadata[k] = v
				}
			}
			tt.mutate(&clone)
			assert.False(t, s.Verify(&clone), "mutated %s must fail verification", tt.name)
		})
	}
}

func TestSigner_VerifySurvivesJSONRoundTrip(t *testing.T) {
	s, _ := newTestSigner(t)

	e := NewEvent(EventTypeDataOp, SeverityInfo, "stored").
		WithOperation("put").
		WithDuration(1500000) // 1.5ms
	require.NoError(t, s.Sign(e))

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, s.Verify(&decoded), "signature must survive serialization")
}

func TestSigner_VerifyAcrossRotation(t *testing.T) {
	s, km := newTestSigner(t)

	e := NewEvent(EventTypeSystem, SeverityInfo, "before rotation")
	require.NoError(t, s.Sign(e))

	_, err := km.Rotate()
	require.NoError(t, err)

	assert.True(t, s.Verify(e), "events signed under old versions must verify")

	e2 := NewEvent(EventTypeSystem, SeverityInfo, "after rotation")
	require.NoError(t, s.Sign(e2))
	assert.Equal(t, uint32(2), e2.SignatureKeyVersion)
	assert.True(t, s.Verify(e2))
}

func TestSigner_VerifyUnsignedEvent(t *testing.T) {
	s, _ := newTestSigner(t)
	assert.False(t, s.Verify(NewEvent(EventTypeSystem, SeverityInfo, "never signed")))
}
