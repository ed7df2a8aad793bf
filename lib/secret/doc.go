// Copyright 2026 The Lattice Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive material, such as homeserver passwords
// and access tokens, in memory the Go runtime cannot touch.
//
// [Buffer] allocates its backing memory with mmap(MAP_ANONYMOUS), locks
// it into RAM with mlock so it never reaches swap, and excludes it from
// core dumps with madvise(MADV_DONTDUMP). Close zeroes the region and
// unmaps it. The garbage collector never sees the allocation, so it
// cannot copy the secret around the heap behind the program's back.
//
// Use [New] for a zero-filled buffer, [NewFromBytes] to move existing
// bytes into protected memory (the source is wiped), or [ReadFromPath]
// to load a credential from a file or stdin. Read the contents with
// [Buffer.Bytes]; [Buffer.String] makes a heap copy and exists only for
// API boundaries that demand a string. A closed buffer reads as empty.
package secret
