package minilm

import "container/list"

// Scheduler admits sequences in two phases: prefill batches waiting
// sequences under the token budget, and decode advances every running
// sequence by one token, preempting from the back of the queue when KV
// blocks run out.
type Scheduler struct {
	maxNumSeqs       int
	maxBatchedTokens int
	eos              int
	blockManager     *BlockManager
	waiting          *list.List
	running          *list.List
}

// NewScheduler creates a scheduler from the engine configuration.
func NewScheduler(config *Config) *Scheduler {
	return &Scheduler{
		maxNumSeqs:       config.MaxNumSeqs,
		maxBatchedTokens: config.MaxBatchedTokens,
		eos:              config.EOS,
		blockManager:     NewBlockManager(config.NumKVCacheBlocks, config.KVCacheBlockSize),
		waiting:          list.New(),
		running:          list.New(),
	}
}

// IsFinished reports whether every sequence has completed.
func (s *Scheduler) IsFinished() bool {
	return s.waiting.Len() == 0 && s.running.Len() == 0
}

// Add queues a sequence for prefill.
func (s *Scheduler) Add(seq *Sequence) {
	s.waiting.PushBack(seq)
}

// Schedule selects the sequences for the next step and reports whether
// the step is a prefill pass.
func (s *Scheduler) Schedule() ([]*Sequence, bool) {
	scheduled := make([]*Sequence, 0)
	numTokens := 0

	for s.waiting.Len() > 0 && len(scheduled) < s.maxNumSeqs {
		elem := s.waiting.Front()
		seq := elem.Value.(*Sequence)

		if numTokens+seq.Len() > s.maxBatchedTokens || !s.blockManager.CanAllocate(seq) {
			break
		}

		s.blockManager.Allocate(seq)
		numTokens += seq.Len() - seq.NumCachedTokens
		seq.Status = StatusRunning

		s.waiting.Remove(elem)
		s.running.PushBack(seq)
		scheduled = append(scheduled, seq)
	}

	if len(scheduled) > 0 {
		return scheduled, true
	}

	for s.running.Len() > 0 && len(scheduled) < s.maxNumSeqs {
		elem := s.running.Front()
		seq := elem.Value.(*Sequence)
		s.running.Remove(elem)

		for !s.blockManager.CanAppend(seq) {
			if s.running.Len() > 0 {
				back := s.running.Back()
				s.running.Remove(back)
				s.preempt(back.Value.(*Sequence))
			} else {
				s.preempt(seq)
				break
			}
		}

		if seq.Status == StatusRunning {
			s.blockManager.MayAppend(seq)
			scheduled = append(scheduled, seq)
		}
	}

	if len(scheduled) == 0 {
		panic("no sequences scheduled")
	}

	for i := len(scheduled) - 1; i >= 0; i-- {
		s.running.PushFront(scheduled[i])
	}

	return scheduled, false
}

// preempt sends a sequence back to the waiting queue, releasing its
// blocks; it will be re-prefilled from scratch.
func (s *Scheduler) preempt(seq *Sequence) {
	seq.Status = StatusWaiting
	s.blockManager.Deallocate(seq)
	s.waiting.PushFront(seq)
}

// Postprocess appends sampled tokens and retires finished sequences.
// It returns the sequences that finished this step.
func (s *Scheduler) Postprocess(seqs []*Sequence, tokenIDs []int) []*Sequence {
	finished := make([]*Sequence, 0)
	for i, seq := range seqs {
		tokenID := tokenIDs[i]
		seq.AppendToken(tokenID)

		if (!seq.IgnoreEOS && tokenID == s.eos) || seq.NumCompletionTokens() >= seq.MaxNewTokens {
			seq.Status = StatusFinished
			s.blockManager.Deallocate(seq)
			for elem := s.running.Front(); elem != nil; elem = elem.Next() {
				if elem.Value.(*Sequence).SeqID == seq.SeqID {
					s.running.Remove(elem)
					break
				}
			}
			finished = append(finished, seq)
		}
	}
	return finished
}
