// Package runner executes batches of agent loop runs.
//
// Each job pairs a task with a catalog model and runs on its own loop
// instance, built by a LoopFactory so that tool registries can be rooted in
// per job directories. Jobs run concurrently up to a limit; every job owns
// its result slot, and a failing job is recorded rather than aborting the
// batch.
//
//	r := runner.New(func(job runner.Job) (runner.TaskRunner, error) {
//		reg := tool.NewFileRegistry(src, filepath.Join(out, job.Task.Model))
//		return agent.NewLoop(d, reg, agent.WithStore(store)), nil
//	})
//	outcomes := r.Batch(ctx, jobs)
package runner
