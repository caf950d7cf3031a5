package envelope

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/aws/aws-sdk-go/service/kms/kmsiface"
	"github.com/pkg/errors"
)

// EncryptionContextPurpose is bound into every KMS call, so a blob wrapped
// here can't be decrypted through an unrelated KMS integration.
const EncryptionContextPurpose = "fieldcrypt-dek"

// KMSWrapper wraps DEKs with an AWS KMS customer master key.
type KMSWrapper struct {
	// The KMS Customer Master Key to use for wrapping.
	KeyId string

	kms kmsiface.KMSAPI
}

func NewKMSWrapper(c client.ConfigProvider, keyID string) *KMSWrapper {
	return NewKMSWrapperWithClient(kms.New(c), keyID)
}

// NewKMSWrapperWithClient is useful when the caller already has a KMS client
// (or a fake one in tests).
func NewKMSWrapperWithClient(k kmsiface.KMSAPI, keyID string) *KMSWrapper {
	return &KMSWrapper{KeyId: keyID, kms: k}
}

func (w *KMSWrapper) Mode() string { return ModeKMS }

// Wrap encrypts the DEK with the KMS CMK.
func (w *KMSWrapper) Wrap(ctx context.Context, dek []byte) (*Envelope, error) {
	if w.KeyId == "" {
		return nil, wrapFailure(ModeKMS, "wrap", errors.New("kms key id is not configured"))
	}
	resp, err := w.kms.EncryptWithContext(ctx, &kms.EncryptInput{
		KeyId:             aws.String(w.KeyId),
		Plaintext:         dek,
		EncryptionContext: encryptionContext(),
	})
	if err != nil {
		return nil, wrapFailure(ModeKMS, "wrap", err)
	}
	return &Envelope{Ciphertext: resp.CiphertextBlob}, nil
}

// Unwrap decrypts a DEK that was wrapped with KMS. KMS embeds the CMK id in
// the blob, so KeyId isn't needed here.
func (w *KMSWrapper) Unwrap(ctx context.Context, e *Envelope) ([]byte, error) {
	if e == nil || len(e.Ciphertext) == 0 {
		return nil, wrapFailure(ModeKMS, "unwrap", errors.New("empty envelope"))
	}
	resp, err := w.kms.DecryptWithContext(ctx, &kms.DecryptInput{
		CiphertextBlob:    e.Ciphertext,
		EncryptionContext: encryptionContext(),
	})
	if err != nil {
		return nil, wrapFailure(ModeKMS, "unwrap", err)
	}
	return resp.Plaintext, nil
}

func encryptionContext() map[string]*string {
	return map[string]*string{
		"purpose": aws.String(EncryptionContextPurpose),
	}
}
