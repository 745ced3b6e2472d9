package certs

import (
	"crypto/x509"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafSerial(t *testing.T, s *Store) string {
	t.Helper()
	cert, err := s.Certificate()
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.SerialNumber.String()
}

func TestStore_Certificate(t *testing.T) {
	tests := []struct {
		setup     func(t *testing.T, s *Store)
		name      string
		wantReuse bool
	}{
		{
			name:  "generates when missing",
			setup: func(_ *testing.T, _ *Store) {},
		},
		{
			name: "reuses a valid certificate",
			setup: func(t *testing.T, s *Store) {
				t.Helper()
				_, err := s.Certificate()
				require.NoError(t, err)
			},
			wantReuse: true,
		},
		{
			name: "replaces garbage files",
			setup: func(t *testing.T, s *Store) {
				t.Helper()
				require.NoError(t, os.MkdirAll(s.dir, 0700))
				require.NoError(t, os.WriteFile(s.CertFile(), []byte("not a cert"), 0600))
				require.NoError(t, os.WriteFile(s.KeyFile(), []byte("not a key"), 0600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(t.TempDir() + "/certs")
			tt.setup(t, s)

			var before string
			if tt.wantReuse {
				before = leafSerial(t, s)
			}

			cert, err := s.Certificate()
			require.NoError(t, err)
			leaf, err := x509.ParseCertificate(cert.Certificate[0])
			require.NoError(t, err)

			assert.NoError(t, leaf.VerifyHostname("localhost"))
			assert.Equal(t, "Subscription Copilot", leaf.Subject.Organization[0])
			if tt.wantReuse {
				assert.Equal(t, before, leaf.SerialNumber.String())
			}

			info, err := os.Stat(s.KeyFile())
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		})
	}
}

func TestStore_RenewsExpiringCertificate(t *testing.T) {
	s := NewStore(t.TempDir())
	first := leafSerial(t, s)

	s.now = func() time.Time { return time.Now().Add(Validity - RenewBefore/2) }
	second := leafSerial(t, s)

	assert.NotEqual(t, first, second)
}

func TestStore_TLSConfig(t *testing.T) {
	cfg, err := NewStore(t.TempDir()).TLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.NotZero(t, cfg.MinVersion)
}
