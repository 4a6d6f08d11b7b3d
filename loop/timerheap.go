package loop

// timerHeap is a container/heap.Interface min-heap of *TimerHandle ordered
// by deadline (earlier first), ties broken by insertion sequence.
type timerHeap []*TimerHandle

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Before(h[j].when) {
		return true
	}
	if h[j].when.Before(h[i].when) {
		return false
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	th := x.(*TimerHandle)
	th.index = len(*h)
	*h = append(*h, th)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	th := old[n-1]
	old[n-1] = nil
	th.index = -1
	*h = old[:n-1]
	return th
}
