// internal/pkg/async/pool.go
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func(ctx context.Context) (any, error)
}

type Result struct {
	Name string
	Data any
	Err  error
}

// Pool runs named tasks on a bounded number of workers.
type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	return &Pool{workerCount: workerCount}
}

func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range tasks {
		results <- run(ctx, task)
	}
}

func run(ctx context.Context, task Task) (res Result) {
	res.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	res.Data, res.Err = task.Execute(ctx)
	return res
}

// Execute runs every task and returns results keyed by task name. Tasks not
// started before ctx is done get ctx's error as their result.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	results := make(map[string]Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	workers := p.workerCount
	if workers <= 0 || workers > len(tasks) {
		workers = len(tasks)
	}

	queue := make(chan Task)
	out := make(chan Result, len(tasks))
	var wg sync.WaitGroup

	// Start workers
	for range workers {
		wg.Add(1)
		go p.worker(ctx, queue, out, &wg)
	}

	// Send tasks
	go func() {
		defer close(queue)
		for _, task := range tasks {
			select {
			case queue <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(out)

	for result := range out {
		results[result.Name] = result
	}
	for _, task := range tasks {
		if _, ok := results[task.Name]; !ok {
			results[task.Name] = Result{Name: task.Name, Err: ctx.Err()}
		}
	}
	return results
}
