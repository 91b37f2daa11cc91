package scheduler

// readyQueue is a heap of runnable tasks ordered by priority weight
// descending, then registration sequence ascending. Equal-priority
// tasks therefore run in submission order.
type readyQueue []*task

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	wi, wj := q[i].priority.Weight(), q[j].priority.Weight()
	if wi != wj {
		return wi > wj
	}
	return q[i].seq < q[j].seq
}

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *readyQueue) Push(x any) {
	t := x.(*task)
	t.heapIndex = len(*q)
	*q = append(*q, t)
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*q = old[:n-1]
	return t
}
