package envelope

import (
	"bytes"
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/crypto/aead"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSecretBoxWrapper(t *testing.T) *SecretBoxWrapper {
	kek, err := GenerateRandomKey()
	require.NoError(t, err)
	w, err := NewSecretBoxWrapper(kek)
	require.NoError(t, err)
	return w
}

func TestSecretBoxWrapper(t *testing.T) {
	w := newSecretBoxWrapper(t)
	dek, err := GenerateRandomKey()
	require.NoError(t, err)

	e, err := w.Wrap(context.Background(), dek)
	require.NoError(t, err)
	assert.Len(t, e.Nonce, 24)
	assert.False(t, bytes.Contains(e.Ciphertext, dek))

	got, err := w.Unwrap(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestSecretBoxWrapperWrongKek(t *testing.T) {
	dek, _ := GenerateRandomKey()
	e, err := newSecretBoxWrapper(t).Wrap(context.Background(), dek)
	require.NoError(t, err)

	_, err = newSecretBoxWrapper(t).Unwrap(context.Background(), e)
	assert.True(t, errors.Is(err, ErrWrapFailure))
}

func TestNewSecretBoxWrapperRejectsBadKek(t *testing.T) {
	_, err := NewSecretBoxWrapper([]byte("short"))
	assert.Error(t, err)

	_, err = NewSecretBoxWrapperFromBase64("not base64!")
	assert.Error(t, err)
}

// fakeKMS implements the two kmsiface calls the wrapper uses by xor-ing
// with a static pad, and checks the encryption context on the way.
type fakeKMS struct {
	kmsiface.KMSAPI
	pad  byte
	err  error
	keys []string
}

func (f *fakeKMS) EncryptWithContext(ctx aws.Context, in *kms.EncryptInput, _ ...request.Option) (*kms.EncryptOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if aws.StringValue(in.EncryptionContext["purpose"]) != EncryptionContextPurpose {
		return nil, errors.New("missing encryption context")
	}
	f.keys = append(f.keys, aws.StringValue(in.KeyId))
	return &kms.EncryptOutput{CiphertextBlob: f.xor(in.Plaintext)}, nil
}

func (f *fakeKMS) DecryptWithContext(ctx aws.Context, in *kms.DecryptInput, _ ...request.Option) (*kms.DecryptOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if aws.StringValue(in.EncryptionContext["purpose"]) != EncryptionContextPurpose {
		return nil, errors.New("missing encryption context")
	}
	return &kms.DecryptOutput{Plaintext: f.xor(in.CiphertextBlob)}, nil
}

func (f *fakeKMS) xor(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ f.pad
	}
	return out
}

func TestKMSWrapper(t *testing.T) {
	f := &fakeKMS{pad: 0x5a}
	w := NewKMSWrapperWithClient(f, "arn:aws:kms:us-east-1:000000000000:key/test")
	dek, _ := GenerateRandomKey()

	e, err := w.Wrap(context.Background(), dek)
	require.NoError(t, err)
	assert.Nil(t, e.Nonce)
	assert.Equal(t, []string{"arn:aws:kms:us-east-1:000000000000:key/test"}, f.keys)

	got, err := w.Unwrap(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, dek, got)
}

func TestKMSWrapperFailures(t *testing.T) {
	f := &fakeKMS{err: errors.New("dial tcp: i/o timeout")}
	w := NewKMSWrapperWithClient(f, "key")

	_, err := w.Wrap(context.Background(), make([]byte, 32))
	require.True(t, errors.Is(err, ErrWrapFailure))
	var wf *WrapFailure
	require.True(t, errors.As(err, &wf))
	assert.Equal(t, ModeKMS, wf.Mode)
	assert.Equal(t, "wrap", wf.Op)
	assert.True(t, wf.Temporary())

	_, err = w.Unwrap(context.Background(), &Envelope{Ciphertext: []byte{1}})
	assert.True(t, errors.Is(err, ErrWrapFailure))

	_, err = NewKMSWrapperWithClient(&fakeKMS{}, "").Wrap(context.Background(), make([]byte, 32))
	assert.True(t, errors.Is(err, ErrWrapFailure))
}

func TestCrypto(t *testing.T) {
	c := NewCrypto(newSecretBoxWrapper(t), &aead.AESGCM{})
	assert.Equal(t, ModeLocal, c.Mode())
	assert.Equal(t, aead.NameAESGCM, c.AEAD())

	dek, err := c.GenerateDEK()
	require.NoError(t, err)

	e, err := c.WrapDEK(context.Background(), dek)
	require.NoError(t, err)
	unwrapped, err := c.UnwrapDEK(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped)

	aad := []byte("txn:v1:description")
	ct, nonce, err := c.Encrypt(unwrapped, []byte("hello"), aad)
	require.NoError(t, err)
	pt, err := c.Decrypt(dek, ct, nonce, aad)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))

	ct[0] ^= 0xff
	_, err = c.Decrypt(dek, ct, nonce, aad)
	assert.True(t, errors.Is(err, aead.ErrDecryptionFailure))
}

func TestCryptoRejectsBadDEKSize(t *testing.T) {
	c := NewCrypto(newSecretBoxWrapper(t), &aead.AESGCM{})
	_, err := c.WrapDEK(context.Background(), []byte("short"))
	assert.Error(t, err)

	// A provider handing back a short key is a wrap failure, not a panic
	// further down in the cipher.
	f := &fakeKMS{}
	k := NewCrypto(NewKMSWrapperWithClient(f, "key"), &aead.AESGCM{})
	_, err = k.UnwrapDEK(context.Background(), &Envelope{Ciphertext: []byte("short")})
	assert.True(t, errors.Is(err, ErrWrapFailure))
}
