package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/hcegateway/internal/model"
	"github.com/hitoshi/hcegateway/internal/site"
)

// ErrUnknownResource はポリシーに存在しないリソース種別が指定された場合のエラー。
// 呼び出し側のプログラミングエラーであり、ストアには到達しない。
var ErrUnknownResource = errors.New("unknown resource type")

// デフォルトのタイムアウト値
const (
	DefaultLocalTimeout  = 30 * time.Second
	DefaultRemoteTimeout = 5 * time.Second
)

// 拠点呼び出しの結果種別（メトリクスのラベル値）
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// LocalStore はローカルストアの読み取りインターフェース。
type LocalStore interface {
	// Find はテーブルをフィルタで検索し、ストアの返却順でレコードを返す。
	Find(ctx context.Context, table string, filter model.Filter) ([]model.Record, error)
}

// RemoteFetcher は連携拠点の内部リレーエンドポイント呼び出しインターフェース。
type RemoteFetcher interface {
	// Fetch は拠点のローカルストアのみを対象にリソースを取得する。
	Fetch(ctx context.Context, s site.Site, rt model.ResourceType, filter model.Filter) ([]model.Record, error)
}

// Recorder はフェデレーションのメトリクス記録インターフェース。
type Recorder interface {
	ObserveSiteCall(site, outcome string, duration time.Duration)
	IncLocalStoreFailure(resource string)
	ObserveGather(resource, scope string, records int)
}

// Options はCoordinatorの任意設定。
type Options struct {
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration
	Recorder      Recorder
}

// Coordinator はローカルストアと連携拠点からの収集・マージを行う。
// ポリシーとレジストリは生成後に変更されないため、ロックを持たない。
type Coordinator struct {
	policy        *Policy
	registry      *site.Registry
	local         LocalStore
	remote        RemoteFetcher
	logger        *slog.Logger
	recorder      Recorder
	localTimeout  time.Duration
	remoteTimeout time.Duration
}

// NewCoordinator はCoordinatorの新しいインスタンスを生成する。
// タイムアウトが0以下の場合はデフォルト値を使用する。
func NewCoordinator(
	policy *Policy,
	registry *site.Registry,
	local LocalStore,
	remote RemoteFetcher,
	logger *slog.Logger,
	opts Options,
) *Coordinator {
	if opts.LocalTimeout <= 0 {
		opts.LocalTimeout = DefaultLocalTimeout
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Coordinator{
		policy:        policy,
		registry:      registry,
		local:         local,
		remote:        remote,
		logger:        logger,
		recorder:      opts.Recorder,
		localTimeout:  opts.LocalTimeout,
		remoteTimeout: opts.RemoteTimeout,
	}
}

// Policy はCoordinatorが参照するポリシーを返す。
func (c *Coordinator) Policy() *Policy {
	return c.policy
}

// Gather はリソース種別をフィルタで収集し、originタグ付きでマージした結果を返す。
//
// ローカルストアは常に1回呼び出す。フェデレーション対象の種別であれば、
// 登録済みの全拠点へ個別のタイムアウト付きで並行にリレー呼び出しを行う。
// 個々の呼び出しの失敗は空集合として扱い、エラーは返さない。
// マージ順はローカル、続いてレジストリ順の各拠点で、完了順には依存しない。
//
// 呼び出し元のキャンセルはファンアウトへ伝播しない。
func (c *Coordinator) Gather(ctx context.Context, rt model.ResourceType, filter model.Filter) ([]model.Record, error) {
	res, ok := c.policy.Lookup(rt)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, rt)
	}

	ctx = context.WithoutCancel(ctx)

	var sites []site.Site
	if res.Federated() {
		sites = c.registry.Sites()
	}

	// slots[0]はローカル、slots[i+1]はsites[i]の結果
	slots := make([][]model.Record, 1+len(sites))

	var g errgroup.Group
	g.Go(func() error {
		slots[0] = c.gatherLocal(ctx, res, filter)
		return nil
	})
	for i, s := range sites {
		g.Go(func() error {
			slots[i+1] = c.gatherRemote(ctx, s, res, filter)
			return nil
		})
	}
	// 各タスクは失敗を空集合に変換するため、Waitはエラーを返さない
	_ = g.Wait()

	total := 0
	for _, recs := range slots {
		total += len(recs)
	}
	merged := make([]model.Record, 0, total)
	for _, recs := range slots {
		merged = append(merged, recs...)
	}

	c.recorder.ObserveGather(string(rt), res.Scope.String(), len(merged))
	return merged, nil
}

// gatherLocal はローカルストアを呼び出し、originを"local"としてタグ付けする。
func (c *Coordinator) gatherLocal(ctx context.Context, res Resource, filter model.Filter) (records []model.Record) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("ローカルストア呼び出し中にpanicが発生しました",
				slog.String("resource", string(res.Type)),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			c.recorder.IncLocalStoreFailure(string(res.Type))
			records = nil
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.localTimeout)
	defer cancel()

	found, err := c.local.Find(ctx, res.Table, filter)
	if err != nil {
		c.logger.Error("ローカルストアの取得に失敗しました",
			slog.String("resource", string(res.Type)),
			slog.String("table", res.Table),
			slog.String("error", err.Error()),
		)
		c.recorder.IncLocalStoreFailure(string(res.Type))
		return nil
	}
	return tag(found, model.OriginLocal)
}

// gatherRemote は1拠点へのリレー呼び出しを行い、拠点アドレスでタグ付けする。
func (c *Coordinator) gatherRemote(ctx context.Context, s site.Site, res Resource, filter model.Filter) (records []model.Record) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("拠点呼び出し中にpanicが発生しました",
				slog.String("site", s.BaseURL),
				slog.String("resource", string(res.Type)),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			c.recorder.ObserveSiteCall(s.BaseURL, OutcomePanic, time.Since(start))
			records = nil
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	found, err := c.remote.Fetch(ctx, s, res.Type, filter)
	duration := time.Since(start)
	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		c.logger.Warn("拠点からの取得に失敗したため結果から除外します",
			slog.String("site", s.BaseURL),
			slog.String("resource", string(res.Type)),
			slog.String("outcome", outcome),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
			slog.String("error", err.Error()),
		)
		c.recorder.ObserveSiteCall(s.BaseURL, outcome, duration)
		return nil
	}

	c.recorder.ObserveSiteCall(s.BaseURL, OutcomeOK, duration)
	return tag(found, s.BaseURL)
}

// tag は各レコードのoriginを上書きする。nil要素は除外する。
func tag(records []model.Record, origin string) []model.Record {
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		r[model.FieldOrigin] = origin
		out = append(out, r)
	}
	return out
}

type nopRecorder struct{}

func (nopRecorder) ObserveSiteCall(string, string, time.Duration) {}
func (nopRecorder) IncLocalStoreFailure(string)                   {}
func (nopRecorder) ObserveGather(string, string, int)             {}
