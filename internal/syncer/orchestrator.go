package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome は1エンティティ分の実行結果。
type Outcome struct {
	Entity string
	Rows   int
	Err    error
}

// EntityError はレポートに載せるエンティティ単位のエラー。
type EntityError struct {
	Entity string `json:"entity"`
	Error  string `json:"error"`
}

// Report は複数エンティティの同期結果の集約。
type Report struct {
	RunID          string        `json:"runId"`
	Success        bool          `json:"success"`
	LoadedEntities []string      `json:"loadedEntities"`
	Errors         []EntityError `json:"errors"`
	Outcomes       []Outcome     `json:"-"`
}

// Err は失敗したエンティティがある場合に *PartialFailureError を返す。
func (r Report) Err() error {
	if r.Success {
		return nil
	}
	return &PartialFailureError{Errors: r.Errors}
}

// PartialFailureError は一部のエンティティの同期が失敗したことを表す。
type PartialFailureError struct {
	Errors []EntityError
}

// Error implements error.
func (e *PartialFailureError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for _, ee := range e.Errors {
		names = append(names, ee.Entity)
	}
	return fmt.Sprintf("同期に失敗したエンティティがあります: %s", strings.Join(names, ", "))
}

// Runner は1エンティティの同期を実行する。
type Runner interface {
	Run(ctx context.Context, ent Entity) (int, error)
}

// Orchestrator はエンティティごとに同期を実行し、失敗を他のエンティティに波及させない。
type Orchestrator struct {
	runner   Runner
	entities []Entity
	logger   *zap.Logger
}

// NewOrchestrator は新しい Orchestrator を生成する。
func NewOrchestrator(runner Runner, entities []Entity, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{runner: runner, entities: entities, logger: logger}
}

// Entities は同期対象のエンティティを返す。
func (o *Orchestrator) Entities() []Entity {
	return o.entities
}

// Resolve は名前からエンティティを解決する。空の場合はすべてを返す。
func (o *Orchestrator) Resolve(names ...string) ([]Entity, error) {
	if len(names) == 0 {
		return o.entities, nil
	}
	resolved := make([]Entity, 0, len(names))
	for _, n := range names {
		ent, ok := Lookup(o.entities, n)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, n)
		}
		resolved = append(resolved, ent)
	}
	return resolved, nil
}

// RunAll は指定したエンティティを順に同期し、結果を集約する。
// 1つのエンティティが失敗やpanicしても残りのエンティティは実行する。
func (o *Orchestrator) RunAll(ctx context.Context, entities ...Entity) Report {
	if len(entities) == 0 {
		entities = o.entities
	}

	report := Report{
		RunID:          uuid.New().String(),
		LoadedEntities: []string{},
		Errors:         []EntityError{},
	}
	logger := o.logger.With(zap.String("run_id", report.RunID))

	for _, ent := range entities {
		out := o.runOne(ctx, ent)
		report.Outcomes = append(report.Outcomes, out)
		if out.Err != nil {
			logger.Warn("エンティティの同期に失敗しました", zap.String("entity", ent.Name), zap.Error(out.Err))
			report.Errors = append(report.Errors, EntityError{Entity: ent.Name, Error: out.Err.Error()})
			continue
		}
		report.LoadedEntities = append(report.LoadedEntities, ent.Name)
	}
	report.Success = len(report.Errors) == 0

	logger.Info("同期を終了しました",
		zap.Bool("success", report.Success),
		zap.Strings("loaded", report.LoadedEntities),
		zap.Int("errors", len(report.Errors)),
	)
	return report
}

func (o *Orchestrator) runOne(ctx context.Context, ent Entity) (out Outcome) {
	out.Entity = ent.Name
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("同期中にpanicが発生しました: %v", r)
		}
	}()
	out.Rows, out.Err = o.runner.Run(ctx, ent)
	return out
}
