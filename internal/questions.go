package internal

import (
	"math/rand"
	"sync"
)

// Problem 題目
type Problem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Difficulty  Difficulty `json:"difficulty"`
	TestCases   []TestCase `json:"test_cases"`
	Template    string     `json:"template"`
}

// TestCase 測試案例：輸入值依序傳入，輸出以字串比對
type TestCase struct {
	Input    []any  `json:"input"`
	Expected string `json:"expected_output"`
}

// QuestionBank 題庫協作者介面
//
// 核心只依賴此契約；題目的儲存與檢索在核心範圍之外。
type QuestionBank interface {
	// PickQuestion 依難度挑一題，排除已出過的題目；該難度出盡時回傳 nil
	PickQuestion(difficulty Difficulty, exclude map[string]bool) *Problem
	// Lookup 依題目 ID 取得題目
	Lookup(id string) (*Problem, bool)
}

// MemoryBank 內建題庫
type MemoryBank struct {
	problems []*Problem
	byID     map[string]*Problem
	mu       sync.RWMutex
}

// NewMemoryBank 創建內建題庫
func NewMemoryBank(problems []*Problem) *MemoryBank {
	if problems == nil {
		problems = seedProblems()
	}
	byID := make(map[string]*Problem, len(problems))
	for _, p := range problems {
		byID[p.ID] = p
	}
	return &MemoryBank{problems: problems, byID: byID}
}

// PickQuestion 依難度隨機挑一題
func (b *MemoryBank) PickQuestion(difficulty Difficulty, exclude map[string]bool) *Problem {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var eligible []*Problem
	for _, p := range b.problems {
		if p.Difficulty == difficulty && !exclude[p.ID] {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	return eligible[rand.Intn(len(eligible))]
}

// Lookup 依 ID 取得題目
func (b *MemoryBank) Lookup(id string) (*Problem, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.byID[id]
	return p, ok
}

// seedProblems 內建題目
func seedProblems() []*Problem {
	return []*Problem{
		{
			ID:          "add-two-numbers",
			Title:       "Add Two Numbers",
			Description: "Write a function add(a, b) that returns the sum of two integers.",
			Difficulty:  DifficultyEasy,
			Template:    "def add(a, b):\n    pass\n",
			TestCases: []TestCase{
				{Input: []any{2, 3}, Expected: "5"},
				{Input: []any{-1, 1}, Expected: "0"},
				{Input: []any{10, 32}, Expected: "42"},
			},
		},
		{
			ID:          "is-even",
			Title:       "Even or Odd",
			Description: "Write a function is_even(n) that returns True if n is even.",
			Difficulty:  DifficultyEasy,
			Template:    "def is_even(n):\n    pass\n",
			TestCases: []TestCase{
				{Input: []any{4}, Expected: "True"},
				{Input: []any{7}, Expected: "False"},
			},
		},
		{
			ID:          "reverse-string",
			Title:       "Reverse String",
			Description: "Write a function reverse(s) that returns s reversed.",
			Difficulty:  DifficultyEasy,
			Template:    "def reverse(s):\n    pass\n",
			TestCases: []TestCase{
				{Input: []any{"hello"}, Expected: "olleh"},
				{Input: []any{"ab"}, Expected: "ba"},
			},
		},
		{
			ID:          "fibonacci",
			Title:       "Fibonacci",
			Description: "Write a function fib(n) that returns the n-th Fibonacci number (fib(0)=0).",
			Difficulty:  DifficultyMedium,
			Template:    "def fib(n):\n    pass\n",
			TestCases: []TestCase{
				{Input: []any{0}, Expected: "0"},
				{Input: []any{10}, Expected: "55"},
				{Input: []any{20}, Expected: "6765"},
			},
		},
		{
			ID:          "count-vowels",
			Title:       "Count Vowels",
			Description: "Write a function count_vowels(s) that returns the number of vowels in s.",
			Difficulty:  DifficultyMedium,
			Template:    "def count_vowels(s):\n    pass\n",
			TestCases: []TestCase{
				{Input: []any{"programming"}, Expected: "3"},
				{Input: []any{"xyz"}, Expected: "0"},
			},
		},
		{
			ID:          "prime-count",
			Title:       "Count Primes",
			Description: "Write a function count_primes(n) that returns the number of primes strictly below n.",
			Difficulty:  DifficultyHard,
			Template:    "def count_primes(n):\n    pass\n",
			TestCases: []TestCase{
				{Input: []any{10}, Expected: "4"},
				{Input: []any{100}, Expected: "25"},
			},
		},
		{
			ID:          "longest-unique-substring",
			Title:       "Longest Substring Without Repeating Characters",
			Description: "Write a function longest_unique(s) that returns the length of the longest substring without repeating characters.",
			Difficulty:  DifficultyHard,
			Template:    "def longest_unique(s):\n    pass\n",
			TestCases: []TestCase{
				{Input: []any{"abcabcbb"}, Expected: "3"},
				{Input: []any{"bbbbb"}, Expected: "1"},
				{Input: []any{"pwwkew"}, Expected: "3"},
			},
		},
	}
}
