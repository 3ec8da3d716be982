package cachestore

import "context"

// SecureCache wraps a Cache to add SHA-256 key hashing (always on) and
// optional AES-256-GCM encryption of the stored bytes. It is the storage
// layer beneath transact.CachedObject encryption when a passphrase is
// configured on the collaborator.
type SecureCache struct {
	cache  Cache
	cipher *Cipher
}

// NewSecureCache wraps cache. If passphrase is empty, only key hashing is
// applied; stored bytes pass through unencrypted.
func NewSecureCache(cache Cache, passphrase string) (*SecureCache, error) {
	if cache == nil {
		return nil, errNilCache
	}
	var c *Cipher
	if passphrase != "" {
		var err error
		c, err = NewCipher(passphrase)
		if err != nil {
			return nil, err
		}
	}
	return &SecureCache{cache: cache, cipher: c}, nil
}

func (sc *SecureCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	hashed := HashKey(key)
	data, ok, err := sc.cache.Get(ctx, hashed)
	if err != nil || !ok {
		return nil, false, err
	}
	if !sc.cipher.Enabled() {
		return data, true, nil
	}
	plaintext, err := sc.cipher.Decrypt(data)
	if err != nil {
		GetLogger().Warn("failed to decrypt cached data", "key", hashed, "error", err)
		return nil, false, nil
	}
	return plaintext, true, nil
}

func (sc *SecureCache) Set(ctx context.Context, key string, data []byte) error {
	hashed := HashKey(key)
	if !sc.cipher.Enabled() {
		return sc.cache.Set(ctx, hashed, data)
	}
	ciphertext, err := sc.cipher.Encrypt(data)
	if err != nil {
		GetLogger().Warn("failed to encrypt cached data", "key", hashed, "error", err)
		return err
	}
	return sc.cache.Set(ctx, hashed, ciphertext)
}

func (sc *SecureCache) Delete(ctx context.Context, key string) error {
	return sc.cache.Delete(ctx, HashKey(key))
}

// IsEncrypted reports whether sc actually encrypts stored bytes.
func (sc *SecureCache) IsEncrypted() bool {
	return sc.cipher.Enabled()
}

// MarkStale, IsStale and GetStale delegate to the wrapped cache when it
// implements StaleCache, so encryption composes transparently with the
// stale-if-error path. A wrapped cache without stale support reports no
// entries as stale rather than erroring.
func (sc *SecureCache) MarkStale(ctx context.Context, key string) error {
	stale, ok := sc.cache.(StaleCache)
	if !ok {
		return nil
	}
	return stale.MarkStale(ctx, HashKey(key))
}

func (sc *SecureCache) IsStale(ctx context.Context, key string) (bool, error) {
	stale, ok := sc.cache.(StaleCache)
	if !ok {
		return false, nil
	}
	return stale.IsStale(ctx, HashKey(key))
}

func (sc *SecureCache) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	stale, ok := sc.cache.(StaleCache)
	if !ok {
		return nil, false, nil
	}
	hashed := HashKey(key)
	data, found, err := stale.GetStale(ctx, hashed)
	if err != nil || !found {
		return nil, false, err
	}
	if !sc.cipher.Enabled() {
		return data, true, nil
	}
	plaintext, err := sc.cipher.Decrypt(data)
	if err != nil {
		GetLogger().Warn("failed to decrypt stale cached data", "key", hashed, "error", err)
		return nil, false, nil
	}
	return plaintext, true, nil
}

type cacheError string

func (e cacheError) Error() string { return string(e) }

const errNilCache = cacheError("cachestore: cache cannot be nil")

var (
	_ Cache      = (*SecureCache)(nil)
	_ StaleCache = (*SecureCache)(nil)
)
