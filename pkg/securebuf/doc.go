// Package securebuf provides an append-only byte buffer for sensitive
// response material.
//
// A Buffer starts open, accepts one character unit per input byte, and is
// sealed once the producer is done with it. After sealing the content can be
// read but never mutated. Backing storage is allocated in page-sized chunks,
// locked into RAM where the platform allows it, and overwritten with zeros
// whenever it is released: on growth, on Destroy, and by a runtime cleanup
// when a Buffer is dropped without Destroy. Destroy remains the way to scrub
// at a known point; the cleanup runs only after a garbage collection.
//
// Locking is best effort. mlock works on whole pages and does not nest, and
// small Go allocations are not page aligned, so releasing one buffer can
// unlock a page it shares with another live buffer.
//
// Character units are raw byte values. A multi-byte UTF-8 sequence received
// from the wire is therefore exposed as several units by Runes, one per byte.
package securebuf
