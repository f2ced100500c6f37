package internal

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/koopa0/code-battle/pkg/errors"
)

// 系統設計問題：
//   如何安全地執行不受信任的使用者程式碼並比對輸出？
//
// 核心挑戰：
//   1. 隔離：使用者程式碼不能觸碰網路、其他提交、宿主資源
//   2. 資源上限：記憶體、CPU、行程數、牆鐘時間都要有硬上限
//   3. 突發流量：一波提交不能耗盡宿主（沙箱即容器，很貴）
//   4. 確定性失敗：超時要回報失敗結果，絕不讓呼叫端懸掛
//
// 設計方案：
//   ✅ 每個測資一個一次性沙箱，成功失敗都銷毀（資源絕不跨提交洩漏）
//   ✅ 有界並發槽（buffered channel semaphore）限制同時執行的沙箱數
//   ✅ 提交級超時 ≥ 單測資超時，超時回傳確定性的失敗判定
//   ✅ 判題錯誤標記在單一測資上，不中斷其餘測資

// CaseResult 單一測資的判定
type CaseResult struct {
	Passed   bool   `json:"passed"`
	Output   string `json:"output"`
	Expected string `json:"expected"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Error    string `json:"error,omitempty"` // 沙箱異常（非答案錯誤）
}

// Verdict 一次提交的總判定：所有測資通過才算通過
type Verdict struct {
	SubmissionID string       `json:"submission_id"`
	Passed       bool         `json:"passed"`
	Cases        []CaseResult `json:"cases"`
}

// ExecPolicy 沙箱執行策略
type ExecPolicy struct {
	Image       string        // 執行環境映像
	MemoryBytes int64         // 記憶體上限
	NanoCPUs    int64         // CPU 上限（10^9 = 1 CPU）
	PidsLimit   int64         // 行程數上限（擋 fork bomb）
	CaseTimeout time.Duration // 單測資牆鐘超時
}

// CaseRunner 單測資執行器：輸入完整的 harness 原始碼，回傳標準輸出
//
// 超時以 ErrSandboxTimeout、異常退出以 ErrSandboxExecution 回報，
// 兩者都會被記在該測資的結果上而不是往上拋。
type CaseRunner interface {
	RunCase(ctx context.Context, source string) (string, error)
}

// Judge 判題管線
type Judge struct {
	runner            CaseRunner
	slots             chan struct{} // 有界並發槽
	submissionTimeout time.Duration
	logger            *slog.Logger
}

// NewJudge 創建判題管線
//
// maxConcurrent 限制同時執行中的提交數；
// submissionTimeout 是整次提交的上限，必須不小於單測資超時。
func NewJudge(runner CaseRunner, maxConcurrent int, submissionTimeout time.Duration, logger *slog.Logger) *Judge {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Judge{
		runner:            runner,
		slots:             make(chan struct{}, maxConcurrent),
		submissionTimeout: submissionTimeout,
		logger:            logger,
	}
}

// Judge 判定一次提交
//
// 每個測資獨立執行：合成進入點、丟進一次性沙箱、修剪後字串比對。
// 任一測資的沙箱錯誤只標記該測資失敗，其餘測資照常執行。
func (j *Judge) Judge(ctx context.Context, code string, cases []TestCase) (*Verdict, error) {
	submissionID := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, j.submissionTimeout)
	defer cancel()

	// 先佔並發槽再碰任何沙箱資源
	select {
	case j.slots <- struct{}{}:
		defer func() { <-j.slots }()
	case <-ctx.Done():
		return j.timedOutVerdict(submissionID, cases), nil
	}

	verdict := &Verdict{SubmissionID: submissionID, Passed: true}

	for _, tc := range cases {
		// 提交級超時已到：剩餘測資全部記為超時失敗，不懸掛呼叫端
		if ctx.Err() != nil {
			verdict.Passed = false
			verdict.Cases = append(verdict.Cases, CaseResult{
				Expected: tc.Expected,
				TimedOut: true,
				Error:    "submission timed out",
			})
			continue
		}

		result := j.runCase(ctx, code, tc)
		if !result.Passed {
			verdict.Passed = false
		}
		verdict.Cases = append(verdict.Cases, result)
	}

	j.logger.Info("判題完成",
		"submission_id", submissionID,
		"passed", verdict.Passed,
		"cases", len(verdict.Cases))
	return verdict, nil
}

// runCase 執行單一測資
func (j *Judge) runCase(ctx context.Context, code string, tc TestCase) CaseResult {
	source := buildHarness(code, tc)

	output, err := j.runner.RunCase(ctx, source)
	if err != nil {
		result := CaseResult{Expected: tc.Expected, Error: err.Error()}
		if apperrors.IsSandboxTimeout(err) {
			result.TimedOut = true
		}
		return result
	}

	got := strings.TrimSpace(output)
	want := strings.TrimSpace(tc.Expected)
	return CaseResult{
		Passed:   got == want,
		Output:   got,
		Expected: tc.Expected,
	}
}

// timedOutVerdict 併發槽都被佔滿且等待超時：回傳確定性的失敗判定
func (j *Judge) timedOutVerdict(submissionID string, cases []TestCase) *Verdict {
	verdict := &Verdict{SubmissionID: submissionID}
	for _, tc := range cases {
		verdict.Cases = append(verdict.Cases, CaseResult{
			Expected: tc.Expected,
			TimedOut: true,
			Error:    "judge queue timed out",
		})
	}
	return verdict
}

// defPattern 偵測提交中第一個頂層函式定義
var defPattern = regexp.MustCompile(`(?m)^def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// buildHarness 合成進入點
//
// 提交定義了具名函式：以測資輸入值依序作為位置引數呼叫並列印回傳值；
// 沒有函式定義：原樣執行，捕捉標準輸出。
func buildHarness(code string, tc TestCase) string {
	match := defPattern.FindStringSubmatch(code)
	if match == nil {
		return code
	}

	args := make([]string, len(tc.Input))
	for i, v := range tc.Input {
		args[i] = pyLiteral(v)
	}
	return fmt.Sprintf("%s\n\nprint(%s(%s))\n", code, match[1], strings.Join(args, ", "))
}

// pyLiteral 把測資輸入值渲染成 Python 字面值：
// 字串加引號，純量以字面值傳遞，
// JSON 解碼出的陣列與物件遞迴渲染成 list 與 dict
func pyLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case bool:
		if val {
			return "True"
		}
		return "False"
	case nil:
		return "None"
	case float64:
		// JSON 解碼後的數字：整數值不帶小數點
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = pyLiteral(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ": " + pyLiteral(val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", val)
	}
}
