// Package dctest provides an in-memory dc.Engine for tests.
package dctest

import (
	"context"
	"strings"
	"sync"

	"github.com/italolelis/downloadhub/internal/dc"
)

// Engine is a scriptable dc.Engine that records every call.
type Engine struct {
	mu sync.Mutex

	Enabled   bool
	Connected bool
	LoginOK   bool

	Jobs  []dc.Job
	Files map[string][]dc.JobFile

	// AddHash is returned by AddJob; AddOK=false makes AddJob fail.
	AddHash string
	AddOK   bool

	// ActionOK is returned by Pause, Resume and Remove.
	ActionOK bool

	Calls []string
	Added []string
}

// NewEngine returns an enabled, connected engine whose calls succeed.
func NewEngine() *Engine {
	return &Engine{
		Enabled:   true,
		Connected: true,
		LoginOK:   true,
		AddOK:     true,
		ActionOK:  true,
		Files:     map[string][]dc.JobFile{},
	}
}

var _ dc.Engine = (*Engine)(nil)

func (e *Engine) record(call string) {
	e.Calls = append(e.Calls, call)
}

// CallCount returns how many calls started with prefix.
func (e *Engine) CallCount(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0

	for _, c := range e.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}

	return n
}

// SetJobs replaces the job listing.
func (e *Engine) SetJobs(jobs ...dc.Job) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Jobs = jobs
}

func (e *Engine) IsEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.Enabled
}

func (e *Engine) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.Connected
}

func (e *Engine) Login(context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("login")

	if !e.Enabled {
		return false
	}

	e.Connected = e.LoginOK

	return e.LoginOK
}

func (e *Engine) AddJob(_ context.Context, uri, _ string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("add " + uri)

	if !e.Enabled || !e.AddOK {
		return "", false
	}

	e.Added = append(e.Added, uri)

	return e.AddHash, true
}

func (e *Engine) ListJobs(context.Context) []dc.Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("list")

	if !e.Enabled || !e.Connected {
		return []dc.Job{}
	}

	return append([]dc.Job{}, e.Jobs...)
}

func (e *Engine) ListJobFiles(_ context.Context, hash string) []dc.JobFile {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("files " + hash)

	return append([]dc.JobFile{}, e.Files[strings.ToLower(hash)]...)
}

func (e *Engine) Pause(_ context.Context, hash string) bool {
	return e.action("pause " + hash)
}

func (e *Engine) Resume(_ context.Context, hash string) bool {
	return e.action("resume " + hash)
}

func (e *Engine) Remove(_ context.Context, hash string, deleteFiles bool) bool {
	call := "remove " + hash
	if deleteFiles {
		call += " with files"
	}

	return e.action(call)
}

func (e *Engine) action(call string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record(call)

	return e.Enabled && e.ActionOK
}
