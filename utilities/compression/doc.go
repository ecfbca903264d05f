// Package compression implements the DEFLATE compressed-data format from
// scratch, as defined by RFC 1951.
//
// DEFLATE is the codec underneath nearly every format this project cares
// about: PNG stores its filtered scanlines in it, ZIP and GZIP wrap it in
// their own headers and checksums, and .tar.gz is just a TAR stream pushed
// through it. Rather than leaning on compress/flate we implement the format
// ourselves, both because several handlers need access to pieces the standard
// library doesn't expose and because a converter that can't explain its own
// bitstreams is miserable to debug.
//
// A DEFLATE stream is a sequence of blocks. Each block starts with a one-bit
// "final" flag and a two-bit type: stored (raw bytes with a length and its
// one's complement), fixed Huffman (code tables hardwired by the RFC), or
// dynamic Huffman (code tables shipped in the block itself, themselves
// compressed with a third, 19-symbol code). Within compressed blocks the
// data is a stream of literal bytes and back-references -- "copy N bytes
// from M bytes ago" -- produced by LZ77 matching against a 32 KiB sliding
// window.
//
// The pieces, bottom up:
//
//   - bitio.go: bit-level reader/writer. DEFLATE packs bits LSB-first within
//     each byte, except Huffman codes which arrive MSB-first and have to be
//     reversed on the way in or out.
//   - huffman.go: canonical Huffman codes. Decoding builds a binary trie
//     from an array of per-symbol code lengths; encoding uses the fixed RFC
//     tables.
//   - lz77.go: hash-chain match finder that turns raw bytes into a token
//     stream of literals and (length, distance) pairs.
//   - inflate.go: block-type dispatch and the symbol loop for decompression.
//   - deflate.go: stored and fixed-Huffman block emission for compression.
//
// The encoder only ever emits stored or fixed-Huffman blocks. That is a
// deliberate trade: fixed codes cost a few percent of ratio against a real
// dynamic encoder, but they round-trip correctly and keep the encoder small.
// The decoder, on the other hand, handles all three block types, since it
// has to accept streams produced by zlib and friends.
//
// Both directions work on whole in-memory buffers. There is no streaming
// API; callers hold the entire input and output, which is how every format
// handler in this repository uses it anyway.
//
// The package also carries the run-length codec used by RLE-compressed TGA
// images (rle.go). It shares nothing with DEFLATE beyond living in the same
// toolbox.
package compression
