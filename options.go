package ctrfs

// config carries the functional-Option state a container is created with.
// There is no config file or env var: totalBlocks, blockSize and these
// options are the whole of it.
type config struct {
	compression   Compression
	hashAlgorithm HashAlgorithm
}

func defaultConfig() *config {
	return &config{compression: NoCompression, hashAlgorithm: SHA256Hash}
}

// Option configures a container at creation time. Open accepts Options but
// does not apply them: a reopened container uses the compression and hash
// algorithm recorded in its Superblock.
type Option func(*config)

// WithCompression selects the metadata chain's on-disk compression.
func WithCompression(c Compression) Option {
	return func(cfg *config) { cfg.compression = c }
}

// WithHashAlgorithm selects the DedupIndex's content hash.
func WithHashAlgorithm(h HashAlgorithm) Option {
	return func(cfg *config) { cfg.hashAlgorithm = h }
}
