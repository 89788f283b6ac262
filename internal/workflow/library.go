package workflow

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Library holds loaded workflow definitions keyed by id. It is safe for
// concurrent use; the watcher updates it while the engine reads from it.
type Library struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	// byPath remembers which file defined each workflow so removals can
	// evict the right entry.
	byPath map[string]string
}

// NewLibrary creates an empty workflow library.
func NewLibrary() *Library {
	return &Library{
		workflows: make(map[string]*Workflow),
		byPath:    make(map[string]string),
	}
}

// Get returns a workflow by id.
func (l *Library) Get(id string) (*Workflow, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	wf, ok := l.workflows[id]
	return wf, ok
}

// Put adds or replaces a workflow.
func (l *Library) Put(wf *Workflow) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workflows[wf.ID] = wf
}

// List returns all workflows sorted by id.
func (l *Library) List() []*Workflow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Workflow, 0, len(l.workflows))
	for _, wf := range l.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir loads every definition in dir into the library.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read workflow directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		wf, err := LoadWorkflowFile(path)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.workflows[wf.ID] = wf
		l.byPath[path] = wf.ID
		l.mu.Unlock()
		loaded++
	}
	log.Printf("[Library] Loaded %d workflow(s) from %s", loaded, dir)
	return nil
}

func (l *Library) loadFile(path string) {
	wf, err := LoadWorkflowFile(path)
	if err != nil {
		// A half-written or broken file must not evict the last good
		// definition.
		log.Printf("[Library] Ignoring %s: %v", path, err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.workflows[wf.ID] = wf
	l.byPath[path] = wf.ID
	log.Printf("[Library] Reloaded workflow %s from %s", wf.ID, path)
}

func (l *Library) removeFile(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byPath[path]; ok {
		delete(l.workflows, id)
		delete(l.byPath, path)
		log.Printf("[Library] Removed workflow %s (%s deleted)", id, path)
	}
}

func isWorkflowFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Watch reloads definitions as files in dir change. The returned function
// stops the watcher.
func (l *Library) Watch(dir string) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isWorkflowFile(event.Name) {
					continue
				}
				switch {
				case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
					l.loadFile(event.Name)
				case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
					l.removeFile(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Library] Watcher error: %v", err)
			}
		}
	}()

	log.Printf("[Library] Watching %s for workflow changes", dir)
	return watcher.Close, nil
}
