package minilm

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Block is one logical KV cache block: a fixed-size run of token
// positions, reference-counted so identical prompt prefixes can share it.
type Block struct {
	ID       int
	RefCount int
	Hash     uint64
	TokenIDs []int
}

// BlockManager tracks KV cache blocks and reuses full blocks whose token
// content hashes to an already-cached prefix.
type BlockManager struct {
	blockSize    int
	blocks       []*Block
	hashToBlock  map[uint64]int
	freeBlockIDs []int
	used         map[int]bool
}

// NewBlockManager creates a manager with numBlocks free blocks.
func NewBlockManager(numBlocks, blockSize int) *BlockManager {
	blocks := make([]*Block, numBlocks)
	free := make([]int, numBlocks)
	for i := range blocks {
		blocks[i] = &Block{ID: i}
		free[i] = i
	}
	return &BlockManager{
		blockSize:    blockSize,
		blocks:       blocks,
		hashToBlock:  make(map[uint64]int),
		freeBlockIDs: free,
		used:         make(map[int]bool),
	}
}

// NumFreeBlocks returns the number of unallocated blocks.
func (bm *BlockManager) NumFreeBlocks() int {
	return len(bm.freeBlockIDs)
}

// hashBlock chains a full block's token ids onto the previous block's
// hash, so a block hash identifies the entire prefix up to and including
// that block.
func (bm *BlockManager) hashBlock(tokenIDs []int, prefixHash uint64) uint64 {
	h := xxhash.New()
	var buf [8]byte
	if prefixHash != 0 {
		binary.LittleEndian.PutUint64(buf[:], prefixHash)
		h.Write(buf[:])
	}
	for _, id := range tokenIDs {
		binary.LittleEndian.PutUint32(buf[:4], uint32(id))
		h.Write(buf[:4])
	}
	return h.Sum64()
}

func (bm *BlockManager) takeFree() *Block {
	id := bm.freeBlockIDs[0]
	bm.freeBlockIDs = bm.freeBlockIDs[1:]
	block := bm.blocks[id]
	block.RefCount = 1
	block.Hash = 0
	block.TokenIDs = nil
	bm.used[id] = true
	return block
}

func (bm *BlockManager) release(id int) {
	delete(bm.used, id)
	bm.freeBlockIDs = append(bm.freeBlockIDs, id)
}

// CanAllocate reports whether enough free blocks exist for the sequence.
func (bm *BlockManager) CanAllocate(seq *Sequence) bool {
	return len(bm.freeBlockIDs) >= seq.NumBlocks()
}

// Allocate assigns blocks to a sequence, reusing cached blocks whose
// chained hash and token content match the sequence's prefix. Reuse stops
// at the first miss; partial trailing blocks are never hashed.
func (bm *BlockManager) Allocate(seq *Sequence) {
	if len(seq.BlockTable) > 0 {
		panic("sequence already has blocks allocated")
	}

	var prefixHash uint64
	miss := false

	for i := 0; i < seq.NumBlocks(); i++ {
		tokenIDs := seq.Block(i)

		var h uint64
		if len(tokenIDs) == bm.blockSize {
			h = bm.hashBlock(tokenIDs, prefixHash)
			prefixHash = h
		}

		var block *Block
		if !miss && h != 0 {
			if id, ok := bm.hashToBlock[h]; ok && tokensEqual(bm.blocks[id].TokenIDs, tokenIDs) {
				block = bm.blocks[id]
			}
		}

		if block == nil {
			miss = true
			block = bm.takeFree()
		} else {
			seq.NumCachedTokens += bm.blockSize
			if bm.used[block.ID] {
				block.RefCount++
			} else {
				// Cached but free: bring it back into use.
				bm.freeBlockIDs = removeID(bm.freeBlockIDs, block.ID)
				block.RefCount = 1
				bm.used[block.ID] = true
			}
		}

		if h != 0 {
			block.Hash = h
			block.TokenIDs = append([]int(nil), tokenIDs...)
			bm.hashToBlock[h] = block.ID
		}

		seq.BlockTable = append(seq.BlockTable, block.ID)
	}
}

// Deallocate returns a sequence's blocks, freeing each once its refcount
// drops to zero.
func (bm *BlockManager) Deallocate(seq *Sequence) {
	for i := len(seq.BlockTable) - 1; i >= 0; i-- {
		block := bm.blocks[seq.BlockTable[i]]
		block.RefCount--
		if block.RefCount == 0 {
			bm.release(block.ID)
		}
	}
	seq.NumCachedTokens = 0
	seq.BlockTable = seq.BlockTable[:0]
}

// CanAppend reports whether appending one token can be accommodated.
func (bm *BlockManager) CanAppend(seq *Sequence) bool {
	if seq.Len()%bm.blockSize == 1 {
		return len(bm.freeBlockIDs) >= 1
	}
	return true
}

// MayAppend updates block bookkeeping after a token has been appended:
// opens a new block when the previous one just filled, and seals a block's
// hash the moment it becomes full.
func (bm *BlockManager) MayAppend(seq *Sequence) {
	last := bm.blocks[seq.BlockTable[len(seq.BlockTable)-1]]

	switch seq.Len() % bm.blockSize {
	case 1:
		// Previous block is full and sealed; start a new one.
		block := bm.takeFree()
		seq.BlockTable = append(seq.BlockTable, block.ID)
	case 0:
		// The last block just filled; seal it with a chained hash.
		var prefixHash uint64
		if len(seq.BlockTable) > 1 {
			prefixHash = bm.blocks[seq.BlockTable[len(seq.BlockTable)-2]].Hash
		}
		tokenIDs := seq.Block(seq.NumBlocks() - 1)
		h := bm.hashBlock(tokenIDs, prefixHash)
		last.Hash = h
		last.TokenIDs = append([]int(nil), tokenIDs...)
		bm.hashToBlock[h] = last.ID
	}
}

func tokensEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func removeID(ids []int, id int) []int {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
