// Package keystore persists owner key material of either audit scheme.
package keystore

import (
    "context"
    "crypto/aes"
    "crypto/cipher"
    "crypto/rand"
    "encoding/binary"
    "encoding/hex"
    "encoding/json"
    "errors"
    "hash/crc32"
    "io"
    "os"
    "path/filepath"
    "sync"
    "time"

    "golang.org/x/crypto/argon2"
    "golang.org/x/xerrors"

    "github.com/zmlAEQ/Aequa-storage/internal/por/group"
    "github.com/zmlAEQ/Aequa-storage/internal/por/private"
    "github.com/zmlAEQ/Aequa-storage/internal/por/public"
    "github.com/zmlAEQ/Aequa-storage/internal/por/secret"
    "github.com/zmlAEQ/Aequa-storage/pkg/logger"
    "github.com/zmlAEQ/Aequa-storage/pkg/metrics"
)

var (
    ErrNotFound   = errors.New("keystore: not found")
    ErrNoKey      = errors.New("keystore: file is encrypted but no key is configured")
    ErrBadHeader  = errors.New("keystore: bad header")
    ErrCRC        = errors.New("keystore: crc mismatch")
    ErrEmptyKeys  = errors.New("keystore: no key material")
)

const (
    magicPOR       uint32 = 0x504f524b // 'PORK'
    version        uint16 = 1
    flagEncrypt    uint16 = 1 << 0
    flagPassphrase uint16 = 1 << 1

    headerSize = 4 + 2 + 2 + 4 + 4
    nonceSize  = 12
    saltSize   = 16
)

// Argon2id parameters for passphrase-protected files.
var (
    ArgonTime    uint32 = 1
    ArgonMemory  uint32 = 64 * 1024
    ArgonThreads uint8  = 4
)

// Keys holds the key material of one owner; exactly one field is set.
type Keys struct {
    Public  *public.KeyMaterial
    Private *private.Key
}

func (k Keys) Scheme() string {
    switch {
    case k.Public != nil:
        return public.Name
    case k.Private != nil:
        return private.Name
    }
    return ""
}

// Destroy wipes every secret held.
func (k Keys) Destroy() {
    k.Public.Destroy()
    k.Private.Destroy()
}

// Store keeps one key file, written atomically with a .bak fallback.
//
// Disk layout:
// [magic u32][version u16][flags u16][length u32][crc32 u32][body ...]
// body = JSON when plain, nonce||ciphertext with a raw key, and
// salt||nonce||ciphertext with a passphrase.
type Store struct {
    mu         sync.Mutex
    path       string
    aead       cipher.AEAD
    passphrase []byte
}

// New returns an unencrypted store.
func New(path string) *Store { return &Store{path: path} }

// NewEncrypted uses a raw 32-byte AES-256-GCM key. key is wiped.
func NewEncrypted(path string, key []byte) (*Store, error) {
    defer zero(key)
    if len(key) != 32 { return nil, xerrors.Errorf("keystore: key must be 32 bytes, got %d", len(key)) }
    a, err := newAESGCM(key)
    if err != nil { return nil, err }
    return &Store{path: path, aead: a}, nil
}

// NewWithPassphrase derives the file key with argon2id and a per-write salt.
func NewWithPassphrase(path string, passphrase []byte) *Store {
    return &Store{path: path, passphrase: append([]byte(nil), passphrase...)}
}

// FromEnv builds a store from AEQUA_POR_KEYSTORE_KEY (64 hex chars),
// AEQUA_POR_KEYSTORE_KEY_FILE (raw 32 bytes) or
// AEQUA_POR_KEYSTORE_PASSPHRASE, in that order; plain otherwise.
func FromEnv(path string) (*Store, error) {
    if h := os.Getenv("AEQUA_POR_KEYSTORE_KEY"); h != "" {
        b, err := hex.DecodeString(h)
        if err != nil { return nil, xerrors.Errorf("keystore: key hex: %w", err) }
        return NewEncrypted(path, b)
    }
    if f := os.Getenv("AEQUA_POR_KEYSTORE_KEY_FILE"); f != "" {
        b, err := os.ReadFile(f)
        if err != nil { return nil, err }
        return NewEncrypted(path, b)
    }
    if p := os.Getenv("AEQUA_POR_KEYSTORE_PASSPHRASE"); p != "" {
        return NewWithPassphrase(path, []byte(p)), nil
    }
    return New(path), nil
}

func (s *Store) Path() string { return s.path }

type fileKeys struct {
    Scheme string `json:"scheme"`
    X      string `json:"x,omitempty"`
    G      string `json:"g,omitempty"`
    U      string `json:"u,omitempty"`
    K      string `json:"k,omitempty"`
    Alpha  string `json:"alpha,omitempty"`
}

func encodeKeys(k Keys) ([]byte, error) {
    var fk fileKeys
    switch {
    case k.Public != nil:
        x := k.Public.X.Expose()
        fk = fileKeys{Scheme: public.Name, X: hex.EncodeToString(x), G: hex.EncodeToString(k.Public.G.Compress()), U: hex.EncodeToString(k.Public.U.Compress())}
        zero(x)
    case k.Private != nil:
        kb, ab := k.Private.K.Expose(), k.Private.Alpha.Expose()
        fk = fileKeys{Scheme: private.Name, K: hex.EncodeToString(kb), Alpha: hex.EncodeToString(ab)}
        zero(kb); zero(ab)
    default:
        return nil, ErrEmptyKeys
    }
    return json.Marshal(fk)
}

func decodeKeys(b []byte) (Keys, error) {
    var fk fileKeys
    if err := json.Unmarshal(b, &fk); err != nil { return Keys{}, err }
    switch fk.Scheme {
    case public.Name:
        x, err := hex.DecodeString(fk.X)
        if err != nil { return Keys{}, xerrors.Errorf("keystore: x: %w", err) }
        defer zero(x)
        gb, err := hex.DecodeString(fk.G)
        if err != nil { return Keys{}, xerrors.Errorf("keystore: g: %w", err) }
        ub, err := hex.DecodeString(fk.U)
        if err != nil { return Keys{}, xerrors.Errorf("keystore: u: %w", err) }
        g, err := group.DecompressG2(gb)
        if err != nil { return Keys{}, err }
        u, err := group.DecompressG1(ub)
        if err != nil { return Keys{}, err }
        km, err := public.NewKeyMaterial(secret.FromBytes(x), g, u)
        if err != nil { return Keys{}, err }
        return Keys{Public: km}, nil
    case private.Name:
        kb, err := hex.DecodeString(fk.K)
        if err != nil { return Keys{}, xerrors.Errorf("keystore: k: %w", err) }
        defer zero(kb)
        ab, err := hex.DecodeString(fk.Alpha)
        if err != nil { return Keys{}, xerrors.Errorf("keystore: alpha: %w", err) }
        defer zero(ab)
        pk, err := private.NewKey(secret.FromBytes(kb), secret.FromBytes(ab))
        if err != nil { return Keys{}, err }
        return Keys{Private: pk}, nil
    }
    return Keys{}, xerrors.Errorf("keystore: unknown scheme %q", fk.Scheme)
}

func (s *Store) seal(payload []byte) (body []byte, flags uint16, err error) {
    switch {
    case s.aead != nil:
        nonce := make([]byte, nonceSize)
        if _, err := rand.Read(nonce); err != nil { return nil, 0, err }
        return append(nonce, s.aead.Seal(nil, nonce, payload, nil)...), flagEncrypt, nil
    case len(s.passphrase) > 0:
        salt := make([]byte, saltSize+nonceSize)
        if _, err := rand.Read(salt); err != nil { return nil, 0, err }
        a, err := s.derive(salt[:saltSize])
        if err != nil { return nil, 0, err }
        return append(salt, a.Seal(nil, salt[saltSize:], payload, nil)...), flagEncrypt | flagPassphrase, nil
    }
    return append([]byte(nil), payload...), 0, nil
}

func (s *Store) open(body []byte, flags uint16) ([]byte, error) {
    if flags&flagEncrypt == 0 { return body, nil }
    if flags&flagPassphrase != 0 {
        if len(s.passphrase) == 0 { return nil, ErrNoKey }
        if len(body) < saltSize+nonceSize { return nil, ErrBadHeader }
        a, err := s.derive(body[:saltSize])
        if err != nil { return nil, err }
        return a.Open(nil, body[saltSize:saltSize+nonceSize], body[saltSize+nonceSize:], nil)
    }
    if s.aead == nil { return nil, ErrNoKey }
    if len(body) < nonceSize { return nil, ErrBadHeader }
    return s.aead.Open(nil, body[:nonceSize], body[nonceSize:], nil)
}

func (s *Store) derive(salt []byte) (cipher.AEAD, error) {
    key := argon2.IDKey(s.passphrase, salt, ArgonTime, ArgonMemory, ArgonThreads, 32)
    defer zero(key)
    return newAESGCM(key)
}

func (s *Store) writeAtomic(k Keys) error {
    payload, err := encodeKeys(k)
    if err != nil { return err }
    defer zero(payload)
    body, flags, err := s.seal(payload)
    if err != nil { return err }

    var hdr [headerSize]byte
    binary.BigEndian.PutUint32(hdr[0:], magicPOR)
    binary.BigEndian.PutUint16(hdr[4:], version)
    binary.BigEndian.PutUint16(hdr[6:], flags)
    binary.BigEndian.PutUint32(hdr[8:], uint32(len(body)))
    binary.BigEndian.PutUint32(hdr[12:], crc32.ChecksumIEEE(body))

    dir := filepath.Dir(s.path)
    if err := os.MkdirAll(dir, 0o700); err != nil { return err }
    tmp := s.path + ".tmp"
    f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
    if err != nil { return err }
    if _, err = f.Write(hdr[:]); err != nil { _ = f.Close(); return err }
    if _, err = f.Write(body); err != nil { _ = f.Close(); return err }
    if err = f.Sync(); err != nil { _ = f.Close(); return err }
    if err = f.Close(); err != nil { return err }

    if _, err := os.Stat(s.path); err == nil { _ = os.Rename(s.path, s.path+".bak") }
    if err := os.Rename(tmp, s.path); err != nil { return err }
    if d, err := os.Open(dir); err == nil { _ = d.Sync(); _ = d.Close() }
    return nil
}

func (s *Store) readFile(path string) (Keys, error) {
    f, err := os.Open(path)
    if err != nil { return Keys{}, err }
    defer f.Close()
    var hdr [headerSize]byte
    if _, err = io.ReadFull(f, hdr[:]); err != nil { return Keys{}, err }
    if binary.BigEndian.Uint32(hdr[0:]) != magicPOR { return Keys{}, ErrBadHeader }
    if binary.BigEndian.Uint16(hdr[4:]) != version { return Keys{}, ErrBadHeader }
    flags := binary.BigEndian.Uint16(hdr[6:])
    length := binary.BigEndian.Uint32(hdr[8:])
    want := binary.BigEndian.Uint32(hdr[12:])
    if length == 0 || length > 1<<20 { return Keys{}, ErrBadHeader }
    body := make([]byte, int(length))
    if _, err = io.ReadFull(f, body); err != nil { return Keys{}, err }
    if crc32.ChecksumIEEE(body) != want { return Keys{}, ErrCRC }
    plain, err := s.open(body, flags)
    if err != nil { return Keys{}, err }
    defer zero(plain)
    return decodeKeys(plain)
}

// Save persists k, keeping the previous file as .bak.
func (s *Store) Save(_ context.Context, k Keys) error {
    begin := time.Now()
    s.mu.Lock(); defer s.mu.Unlock()
    if err := s.writeAtomic(k); err != nil {
        metrics.Inc("keystore_persist_errors_total", nil)
        logger.ErrorJ("keystore", map[string]any{"op": "persist", "result": "error", "err": err.Error()})
        return err
    }
    ms := float64(time.Since(begin).Milliseconds())
    metrics.ObserveSummary("keystore_persist_ms", nil, ms)
    logger.InfoJ("keystore", map[string]any{"op": "persist", "result": "ok", "scheme": k.Scheme(), "latency_ms": ms})
    return nil
}

// Load reads the key file, falling back to .bak when the primary is damaged.
func (s *Store) Load(_ context.Context) (Keys, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    k, err := s.readFile(s.path)
    if err == nil {
        metrics.Inc("keystore_recovery_total", map[string]string{"result": "ok"})
        return k, nil
    }
    if errors.Is(err, ErrNoKey) { return Keys{}, err }
    if k, berr := s.readFile(s.path + ".bak"); berr == nil {
        metrics.Inc("keystore_recovery_total", map[string]string{"result": "fallback"})
        logger.WarnJ("keystore", map[string]any{"op": "recovery", "result": "fallback", "err": err.Error()})
        return k, nil
    }
    metrics.Inc("keystore_recovery_total", map[string]string{"result": "fail"})
    if errors.Is(err, os.ErrNotExist) { return Keys{}, ErrNotFound }
    return Keys{}, err
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
    block, err := aes.NewCipher(key)
    if err != nil { return nil, err }
    return cipher.NewGCM(block)
}

func zero(b []byte) {
    for i := range b { b[i] = 0 }
}
