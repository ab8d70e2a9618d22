package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignatureVerifierRoundTrip(t *testing.T) {
	v := NewSignatureVerifier("whsec_test", 5*time.Minute)
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	header := v.Sign(body, time.Now())
	require.NoError(t, v.Verify(header, body))
}

func TestSignatureVerifierRejectsTamperedBody(t *testing.T) {
	v := NewSignatureVerifier("whsec_test", 5*time.Minute)
	header := v.Sign([]byte(`{"id":"evt_1"}`), time.Now())

	err := v.Verify(header, []byte(`{"id":"evt_2"}`))
	require.Error(t, err)
}

func TestSignatureVerifierRejectsWrongSecret(t *testing.T) {
	signer := NewSignatureVerifier("whsec_other", 5*time.Minute)
	v := NewSignatureVerifier("whsec_test", 5*time.Minute)
	body := []byte(`{"id":"evt_1"}`)

	err := v.Verify(signer.Sign(body, time.Now()), body)
	require.Error(t, err)
}

func TestSignatureVerifierRejectsStaleTimestamp(t *testing.T) {
	v := NewSignatureVerifier("whsec_test", time.Minute)
	body := []byte(`{"id":"evt_1"}`)

	header := v.Sign(body, time.Now().Add(-10*time.Minute))
	err := v.Verify(header, body)
	require.Error(t, err)
}

func TestSignatureVerifierRejectsMalformedHeader(t *testing.T) {
	v := NewSignatureVerifier("whsec_test", time.Minute)

	require.Error(t, v.Verify("", []byte(`{}`)))
	require.Error(t, v.Verify("bogus", []byte(`{}`)))
	require.Error(t, v.Verify("t=notanumber,v1=deadbeef", []byte(`{}`)))
}
