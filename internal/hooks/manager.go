// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// HookManager loads hooks from a directory and runs the matching ones for
// every event published on its bus.
type HookManager struct {
	hooksDir       string
	hooks          map[HookEvent][]*Hook
	eventBus       *EventBus
	programs       map[string]*vm.Program
	actionHandlers map[HookAction]ActionHandler
	subs           []*Subscription
	mu             sync.RWMutex

	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	stopOnce    sync.Once
}

// NewHookManager creates a manager with the built-in actions registered.
func NewHookManager(hooksDir string, eventBus *EventBus) *HookManager {
	m := &HookManager{
		hooksDir:       hooksDir,
		hooks:          make(map[HookEvent][]*Hook),
		eventBus:       eventBus,
		programs:       make(map[string]*vm.Program),
		actionHandlers: make(map[HookAction]ActionHandler),
		stopWatcher:    make(chan struct{}),
	}
	RegisterBuiltInActions(m)
	return m
}

// LoadHooks (re)reads every *.yaml and *.yml file of the hooks directory.
// A missing directory yields no hooks. Unreadable or invalid files are
// logged and skipped.
func (m *HookManager) LoadHooks() error {
	newHooks := make(map[HookEvent][]*Hook)
	if _, err := os.Stat(m.hooksDir); os.IsNotExist(err) {
		m.swap(newHooks)
		return nil
	}

	err := filepath.Walk(m.hooksDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !(strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Errorf("failed to read hook file %s: %v", path, err)
			return nil
		}
		var hook Hook
		if err := yaml.Unmarshal(data, &hook); err != nil {
			log.Errorf("failed to parse hook %s: %v", path, err)
			return nil
		}
		if err := validateHook(&hook); err != nil {
			log.Errorf("invalid hook %s: %v", path, err)
			return nil
		}
		hook.FilePath = path
		if hook.Enabled {
			newHooks[hook.Event] = append(newHooks[hook.Event], &hook)
			log.Debugf("loaded hook %s for event %s", hook.Name, hook.Event)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.swap(newHooks)
	log.Infof("loaded hooks for %d event types", len(newHooks))
	return nil
}

func (m *HookManager) swap(hooks map[HookEvent][]*Hook) {
	m.mu.Lock()
	m.hooks = hooks
	m.programs = make(map[string]*vm.Program)
	m.mu.Unlock()
}

func validateHook(h *Hook) error {
	known := false
	for _, e := range AllEvents {
		if h.Event == e {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown event %q", h.Event)
	}
	if h.Action == "" {
		return fmt.Errorf("missing action")
	}
	if h.Condition != "" {
		if _, err := expr.Compile(h.Condition, expr.Env(conditionEnv(&EventContext{Event: h.Event}))); err != nil {
			return fmt.Errorf("condition: %w", err)
		}
	}
	return nil
}

// SubscribeToAllEvents attaches the manager to every gateway event.
func (m *HookManager) SubscribeToAllEvents() {
	if m.eventBus == nil {
		return
	}
	for _, evt := range AllEvents {
		m.subs = append(m.subs, m.eventBus.Subscribe(evt, m.handleEvent))
	}
}

func (m *HookManager) handleEvent(ctx *EventContext) {
	m.mu.RLock()
	hooks := m.hooks[ctx.Event]
	m.mu.RUnlock()

	for _, hook := range hooks {
		matches, err := m.evaluateCondition(hook.Condition, ctx)
		if err != nil {
			log.Warnf("failed to evaluate hook condition '%s': %v", hook.Condition, err)
			continue
		}
		if matches {
			log.Debugf("executing hook %s (action %s)", hook.Name, hook.Action)
			go m.executeAction(hook, ctx)
		}
	}
}

func conditionEnv(ctx *EventContext) map[string]any {
	data := ctx.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"Event":     string(ctx.Event),
		"Timestamp": ctx.Timestamp,
		"Model":     ctx.Model,
		"Data":      data,
		"Error":     ctx.ErrorMessage,
	}
}

func (m *HookManager) evaluateCondition(condition string, ctx *EventContext) (bool, error) {
	if condition == "" || condition == "true" {
		return true, nil
	}

	m.mu.Lock()
	program, exists := m.programs[condition]
	if !exists {
		var err error
		program, err = expr.Compile(condition)
		if err != nil {
			m.mu.Unlock()
			return false, err
		}
		m.programs[condition] = program
	}
	m.mu.Unlock()

	output, err := expr.Run(program, conditionEnv(ctx))
	if err != nil {
		return false, err
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return boolean")
	}
	return result, nil
}

func (m *HookManager) executeAction(hook *Hook, ctx *EventContext) {
	m.mu.RLock()
	handler, exists := m.actionHandlers[hook.Action]
	m.mu.RUnlock()

	if !exists {
		log.Warnf("no handler registered for action: %s", hook.Action)
		return
	}
	if err := handler(hook, ctx); err != nil {
		log.Errorf("action %s failed for hook %s: %v", hook.Action, hook.Name, err)
	}
}

// RegisterAction registers or replaces the handler of an action.
func (m *HookManager) RegisterAction(action HookAction, handler ActionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionHandlers[action] = handler
}

// StartWatcher reloads hooks whenever the directory changes.
func (m *HookManager) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = watcher.Add(m.hooksDir); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					log.Infof("hooks directory changed (%s), reloading", event.Name)
					time.Sleep(100 * time.Millisecond)
					if err := m.LoadHooks(); err != nil {
						log.Errorf("failed to reload hooks: %v", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("hooks watcher error: %v", err)
			case <-m.stopWatcher:
				return
			}
		}
	}()
	return nil
}

// Stop unsubscribes the manager and stops the watcher.
func (m *HookManager) Stop() {
	m.stopOnce.Do(func() {
		for _, s := range m.subs {
			s.Unsubscribe()
		}
		close(m.stopWatcher)
		if m.watcher != nil {
			_ = m.watcher.Close()
		}
	})
}

// GetHooks returns every loaded hook sorted by ID.
func (m *HookManager) GetHooks() []*Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Hook, 0)
	for _, hooks := range m.hooks {
		result = append(result, hooks...)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetHook returns a hook by ID.
func (m *HookManager) GetHook(id string) *Hook {
	for _, h := range m.GetHooks() {
		if h.ID == id {
			return h
		}
	}
	return nil
}
