package services

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"database/sql"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// IdentityService manages the instance signing keypair. The key is loaded
// from the database first, the data-dir file second, and generated as a last
// resort; whichever source wins is synced back to the other so both stay
// consistent across restarts and re-schedules.
type IdentityService struct {
	privateKey *ecdsa.PrivateKey
	keyPath    string
	instanceID string
	db         *sql.DB
	mu         sync.RWMutex
}

// NewIdentityService loads or creates the instance identity without database
// persistence (file-only mode, used by tests and the CLI).
func NewIdentityService(dataDir, instanceID string) (*IdentityService, error) {
	return NewIdentityServiceWithDB(dataDir, nil, instanceID)
}

// NewIdentityServiceWithDB loads or creates the instance identity, persisting
// the key in the instance_identity table when a database handle is provided.
func NewIdentityServiceWithDB(dataDir string, db *sql.DB, instanceID string) (*IdentityService, error) {
	if instanceID == "" {
		instanceID = os.Getenv("INSTANCE_ID")
		if instanceID == "" {
			instanceID = "default"
		}
	}

	s := &IdentityService{
		keyPath:    filepath.Join(dataDir, "identity.key"),
		instanceID: instanceID,
		db:         db,
	}

	if err := s.loadOrCreateKey(); err != nil {
		return nil, fmt.Errorf("failed to initialize identity: %w", err)
	}

	return s, nil
}

// loadOrCreateKey resolves the private key with DB > file > generate priority.
func (s *IdentityService) loadOrCreateKey() error {
	// 1. Database (survives pod rescheduling)
	if s.db != nil {
		key, err := s.loadKeyFromDB()
		if err == nil && key != nil {
			s.privateKey = key
			log.Printf("[identity] loaded key for instance %s from database", s.instanceID)
			// Best-effort file sync so local tools can read it too
			if err := s.saveKeyToFile(key); err != nil {
				log.Printf("[identity] failed to sync key to file: %v", err)
			}
			return nil
		}
		if err != nil {
			log.Printf("[identity] database key lookup failed: %v", err)
		}
	}

	// 2. Data-dir file
	if key, err := s.loadKeyFromFile(); err == nil && key != nil {
		s.privateKey = key
		log.Printf("[identity] loaded key from %s", s.keyPath)
		if s.db != nil {
			if err := s.saveKeyToDB(key); err != nil {
				log.Printf("[identity] failed to sync key to database: %v", err)
			}
		}
		return nil
	}

	// 3. Generate a fresh P-256 keypair
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	s.privateKey = key
	log.Printf("[identity] generated new keypair for instance %s", s.instanceID)

	if err := s.saveKeyToFile(key); err != nil {
		log.Printf("[identity] failed to persist key to file: %v", err)
	}
	if s.db != nil {
		if err := s.saveKeyToDB(key); err != nil {
			log.Printf("[identity] failed to persist key to database: %v", err)
		}
	}

	return nil
}

func (s *IdentityService) loadKeyFromDB() (*ecdsa.PrivateKey, error) {
	var keyPEM string
	err := s.db.QueryRow(`
		SELECT private_key_pem FROM instance_identity WHERE instance_id = $1
	`, s.instanceID).Scan(&keyPEM)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return decodePrivateKeyPEM([]byte(keyPEM))
}

func (s *IdentityService) saveKeyToDB(key *ecdsa.PrivateKey) error {
	keyPEM, err := encodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	pubPEM, err := encodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO instance_identity (instance_id, private_key_pem, public_key_pem, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (instance_id)
		DO UPDATE SET private_key_pem = $2, public_key_pem = $3, updated_at = NOW()
	`, s.instanceID, string(keyPEM), string(pubPEM))
	return err
}

func (s *IdentityService) loadKeyFromFile() (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(s.keyPath)
	if err != nil {
		return nil, err
	}
	return decodePrivateKeyPEM(data)
}

func (s *IdentityService) saveKeyToFile(key *ecdsa.PrivateKey) error {
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0700); err != nil {
		return err
	}
	keyPEM, err := encodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	return os.WriteFile(s.keyPath, keyPEM, 0600)
}

func encodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

func encodePublicKeyPEM(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func decodePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("invalid PEM block")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// InstanceID returns the configured instance identifier.
func (s *IdentityService) InstanceID() string {
	return s.instanceID
}

// PublicKeyPEM returns the instance public key in PEM form.
func (s *IdentityService) PublicKeyPEM() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return "", fmt.Errorf("identity not initialized")
	}
	pemBytes, err := encodePublicKeyPEM(&s.privateKey.PublicKey)
	if err != nil {
		return "", err
	}
	return string(pemBytes), nil
}

// Sign signs data with SHA-256/ECDSA and returns the signature as raw R||S
// hex. Both halves are zero-padded to the curve byte size, so a P-256
// signature is always 128 hex characters.
func (s *IdentityService) Sign(data []byte) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return "", fmt.Errorf("identity not initialized")
	}

	digest := sha256.Sum256(data)
	r, sv, err := ecdsa.Sign(rand.Reader, s.privateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	byteSize := (s.privateKey.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*byteSize)
	r.FillBytes(sig[:byteSize])
	sv.FillBytes(sig[byteSize:])

	return hex.EncodeToString(sig), nil
}

// SignMap canonicalizes the payload and signs it. Any party that rebuilds the
// same canonical form verifies the same bytes regardless of map iteration
// order or JSON library.
func (s *IdentityService) SignMap(payload map[string]interface{}) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return s.Sign([]byte(canonical))
}

// Verify checks a raw R||S hex signature against data using the instance key.
func (s *IdentityService) Verify(data []byte, sigHex string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.privateKey == nil {
		return false
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	byteSize := (s.privateKey.Curve.Params().BitSize + 7) / 8
	if len(sig) != 2*byteSize {
		return false
	}

	digest := sha256.Sum256(data)
	return verifyRawSignature(&s.privateKey.PublicKey, digest[:], sig)
}

func verifyRawSignature(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	half := len(sig) / 2
	r := new(big.Int).SetBytes(sig[:half])
	sv := new(big.Int).SetBytes(sig[half:])
	return ecdsa.Verify(pub, digest, r, sv)
}

// CanonicalJSON encodes a value deterministically: object keys sorted
// lexicographically, integral floats rendered as integers, strings quoted
// with %q. Two structurally equal payloads always produce identical bytes.
func CanonicalJSON(v interface{}) (string, error) {
	var b strings.Builder
	if err := canonicalEncode(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func canonicalEncode(b *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		b.WriteString(fmt.Sprintf("%q", val))
	case int:
		fmt.Fprintf(b, "%d", val)
	case int64:
		fmt.Fprintf(b, "%d", val)
	case float64:
		// JSON numbers decode as float64; render integral values without a
		// fractional part so 5.0 and 5 canonicalize identically.
		if val == float64(int64(val)) {
			fmt.Fprintf(b, "%d", int64(val))
		} else {
			fmt.Fprintf(b, "%g", val)
		}
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := canonicalEncode(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(fmt.Sprintf("%q", k))
			b.WriteByte(':')
			if err := canonicalEncode(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type %T in canonical JSON", v)
	}
	return nil
}
