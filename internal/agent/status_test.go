package agent

import (
	"bytes"
	"testing"

	"github.com/ndanilov/piivault/internal/crypto"
	"github.com/ndanilov/piivault/internal/models"
)

func TestDerive_NoKEK(t *testing.T) {
	status, priv, dataKey := Derive(nil, &models.KeyRecord{})
	if status != StatusNoLocalSecret {
		t.Errorf("expected %s, got %s", StatusNoLocalSecret, status)
	}
	if priv != nil || dataKey != nil {
		t.Error("expected no keys outside the ready state")
	}
}

func TestDerive_Table(t *testing.T) {
	kek := crypto.DeriveKEK([]byte("correct horse"), crypto.SaltForUsername("alice"))
	wrongKEK := crypto.DeriveKEK([]byte("battery staple"), crypto.SaltForUsername("alice"))

	priv, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	blob, err := crypto.EncryptPrivateKey(priv, kek)
	if err != nil {
		t.Fatalf("failed to encrypt private key: %v", err)
	}
	dataKey, err := crypto.NewDataKey()
	if err != nil {
		t.Fatalf("failed to generate data key: %v", err)
	}
	wrapped, err := crypto.WrapKey(dataKey, &priv.PublicKey)
	if err != nil {
		t.Fatalf("failed to wrap data key: %v", err)
	}

	// A wrapped copy the private key cannot open.
	stranger, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate key pair: %v", err)
	}
	foreignWrapped, err := crypto.WrapKey(dataKey, &stranger.PublicKey)
	if err != nil {
		t.Fatalf("failed to wrap data key: %v", err)
	}

	tests := []struct {
		name string
		kek  []byte
		rec  *models.KeyRecord
		want Status
	}{
		{"nil record", kek, nil, StatusNeedsSetup},
		{"empty record", kek, &models.KeyRecord{}, StatusNeedsSetup},
		{
			"blob decrypts, no wrapped copy",
			kek,
			&models.KeyRecord{EncryptedPrivateKey: blob},
			StatusPendingAccess,
		},
		{
			"blob decrypts, wrapped copy opens",
			kek,
			&models.KeyRecord{EncryptedPrivateKey: blob, WrappedDataKey: wrapped},
			StatusReady,
		},
		{
			"wrong password against stored blob",
			wrongKEK,
			&models.KeyRecord{EncryptedPrivateKey: blob, WrappedDataKey: wrapped},
			StatusSetupBroken,
		},
		{
			"wrapped copy does not match private key",
			kek,
			&models.KeyRecord{EncryptedPrivateKey: blob, WrappedDataKey: foreignWrapped},
			StatusSetupBroken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, gotPriv, gotKey := Derive(tt.kek, tt.rec)
			if status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, status)
			}
			switch tt.want {
			case StatusReady:
				if gotPriv == nil {
					t.Error("expected private key in ready state")
				}
				if !bytes.Equal(gotKey, dataKey) {
					t.Error("expected unwrapped data key to match the original")
				}
			case StatusPendingAccess:
				if gotPriv == nil {
					t.Error("expected private key in pending state")
				}
				if gotKey != nil {
					t.Error("expected no data key in pending state")
				}
			default:
				if gotPriv != nil || gotKey != nil {
					t.Error("expected no keys outside ready/pending states")
				}
			}
		})
	}
}
