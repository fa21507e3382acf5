package diskbuilder

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// Pipeline turns partition specs into a disk image: every partition is
// sized and built independently, then all of them are assembled at once.
type Pipeline struct {
	Estimator *Estimator
	Builder   *Builder
	Assembler *Assembler

	// Parallelism bounds concurrent partition builds; 0 means one worker
	// per partition.
	Parallelism int
}

// PartitionPlan is the size chosen for one partition.
type PartitionPlan struct {
	Spec PartitionSpec
	// Estimate is nil when the partition has a configured size.
	Estimate *Estimate
	Size     uint64
}

// Plan sizes every partition without building anything.
func (p *Pipeline) Plan(ctx context.Context, specs []PartitionSpec) ([]PartitionPlan, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no partitions configured", ErrConfig)
	}

	plans := make([]PartitionPlan, len(specs))
	for i, spec := range specs {
		plan, err := p.plan(ctx, spec)
		if err != nil {
			return nil, err
		}
		plans[i] = plan
	}
	return plans, nil
}

func (p *Pipeline) plan(ctx context.Context, spec PartitionSpec) (PartitionPlan, error) {
	if spec.SizeOverride > 0 {
		logrus.WithFields(logrus.Fields{
			"partition": spec.Name,
			"size":      humanize.IBytes(spec.SizeOverride),
		}).Info("Using configured partition size")
		return PartitionPlan{Spec: spec, Size: spec.SizeOverride}, nil
	}

	est, err := p.Estimator.Estimate(ctx, spec.SourcePath, spec.Filesystem)
	if err != nil {
		return PartitionPlan{}, fmt.Errorf("partition %q: %w", spec.Name, err)
	}
	return PartitionPlan{Spec: spec, Estimate: est, Size: est.Total}, nil
}

// Run builds every partition and assembles them into outputPath. The first
// failure cancels the remaining builds; assembly starts only after every
// build has finished.
func (p *Pipeline) Run(ctx context.Context, specs []PartitionSpec, outputPath string) (*AssemblyResult, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no partitions configured", ErrConfig)
	}

	workers := len(specs)
	if p.Parallelism > 0 && p.Parallelism < workers {
		workers = p.Parallelism
	}

	built := make([]*BuiltPartition, len(specs))
	builds := pool.New().
		WithMaxGoroutines(workers).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for i, spec := range specs {
		builds.Go(func(ctx context.Context) error {
			plan, err := p.plan(ctx, spec)
			if err != nil {
				return err
			}
			part, err := p.Builder.Build(ctx, spec, plan.Size)
			if err != nil {
				return err
			}
			built[i] = part
			return nil
		})
	}

	if err := builds.Wait(); err != nil {
		for _, part := range built {
			if part != nil {
				part.Close()
			}
		}
		return nil, err
	}

	return p.Assembler.Assemble(ctx, built, outputPath)
}
