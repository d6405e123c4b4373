package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

// FileStore is the default PS backend: one JSON document per entity
// class under dir, replaced by write-temp/fsync/rename so a crash mid-
// write never corrupts the previous state (spec.md §4.2). This is
// stricter than the teacher's FileStore.writeJSON, which writes
// directly with os.WriteFile; the violation ledger additionally opens
// O_APPEND so concurrent writers can never truncate history.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates dir if needed and returns a FileStore rooted
// there, mirroring the teacher's NewFileStore(dir).
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, clara.WrapError(clara.KindInternal, "NewFileStore", "failed to create store directory", err)
	}
	log.Printf("[store] initialized file store at %s", dir)
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) appsPath() string       { return filepath.Join(s.dir, "apps.json") }
func (s *FileStore) servicesPath() string   { return filepath.Join(s.dir, "services.json") }
func (s *FileStore) settingsPath() string   { return filepath.Join(s.dir, "settings.json") }
func (s *FileStore) overridesPath() string  { return filepath.Join(s.dir, "rego_overrides.json") }
func (s *FileStore) violationLogPath() string { return filepath.Join(s.dir, "violations.log") }

// writeJSONAtomic writes v to path via a temp file in the same
// directory, fsyncs it, then renames over path — rename on the same
// filesystem is atomic, so readers never observe a half-written file.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (s *FileStore) loadApps() (map[string]clara.AppTrustRecord, error) {
	out := map[string]clara.AppTrustRecord{}
	if err := readJSON(s.appsPath(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) SaveAppRecord(ctx context.Context, rec clara.AppTrustRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.loadApps()
	if err != nil {
		return clara.WrapError(clara.KindInternal, "SaveAppRecord", "load apps", err)
	}
	apps[rec.Package] = rec
	if err := writeJSONAtomic(s.appsPath(), apps); err != nil {
		return clara.WrapError(clara.KindInternal, "SaveAppRecord", "write apps", err)
	}
	return nil
}

func (s *FileStore) GetAppRecord(ctx context.Context, pkg string) (*clara.AppTrustRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apps, err := s.loadApps()
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetAppRecord", "load apps", err)
	}
	rec, ok := apps[pkg]
	if !ok {
		return nil, clara.NewError(clara.KindNotFound, "GetAppRecord", "no trust record for "+pkg)
	}
	return &rec, nil
}

func (s *FileStore) GetAllAppRecords(ctx context.Context) ([]clara.AppTrustRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apps, err := s.loadApps()
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetAllAppRecords", "load apps", err)
	}
	out := make([]clara.AppTrustRecord, 0, len(apps))
	for _, rec := range apps {
		out = append(out, rec)
	}
	return out, nil
}

func (s *FileStore) GetAppsByStatus(ctx context.Context, status clara.AppStatus) ([]clara.AppTrustRecord, error) {
	all, err := s.GetAllAppRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]clara.AppTrustRecord, 0)
	for _, rec := range all {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FileStore) DeleteAppRecord(ctx context.Context, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.loadApps()
	if err != nil {
		return clara.WrapError(clara.KindInternal, "DeleteAppRecord", "load apps", err)
	}
	if _, ok := apps[pkg]; !ok {
		return clara.NewError(clara.KindNotFound, "DeleteAppRecord", "no trust record for "+pkg)
	}
	delete(apps, pkg)
	if err := writeJSONAtomic(s.appsPath(), apps); err != nil {
		return clara.WrapError(clara.KindInternal, "DeleteAppRecord", "write apps", err)
	}
	return nil
}

// AppendViolation opens the ledger O_APPEND so a crash mid-append
// never clobbers prior entries, and writes one JSON line per record.
func (s *FileStore) AppendViolation(ctx context.Context, v clara.ViolationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.violationLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "AppendViolation", "open ledger", err)
	}
	defer f.Close()

	line, err := json.Marshal(v)
	if err != nil {
		return clara.WrapError(clara.KindInternal, "AppendViolation", "marshal record", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return clara.WrapError(clara.KindInternal, "AppendViolation", "write ledger", err)
	}
	return f.Sync()
}

func (s *FileStore) GetRecentViolations(ctx context.Context, pkg string, limit int) ([]clara.ViolationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.violationLogPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetRecentViolations", "open ledger", err)
	}
	defer f.Close()

	var all []clara.ViolationRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var v clara.ViolationRecord
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			continue
		}
		if pkg == "" || v.Package == pkg {
			all = append(all, v)
		}
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *FileStore) loadServices() (map[string]clara.ServiceState, error) {
	out := map[string]clara.ServiceState{}
	if err := readJSON(s.servicesPath(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) SaveServiceState(ctx context.Context, st clara.ServiceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svcs, err := s.loadServices()
	if err != nil {
		return clara.WrapError(clara.KindInternal, "SaveServiceState", "load services", err)
	}
	svcs[st.Name] = st
	if err := writeJSONAtomic(s.servicesPath(), svcs); err != nil {
		return clara.WrapError(clara.KindInternal, "SaveServiceState", "write services", err)
	}
	return nil
}

func (s *FileStore) GetServiceState(ctx context.Context, name string) (*clara.ServiceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svcs, err := s.loadServices()
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetServiceState", "load services", err)
	}
	st, ok := svcs[name]
	if !ok {
		return nil, clara.NewError(clara.KindNotFound, "GetServiceState", "no state for "+name)
	}
	return &st, nil
}

func (s *FileStore) GetAllServiceStates(ctx context.Context) ([]clara.ServiceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svcs, err := s.loadServices()
	if err != nil {
		return nil, clara.WrapError(clara.KindInternal, "GetAllServiceStates", "load services", err)
	}
	out := make([]clara.ServiceState, 0, len(svcs))
	for _, st := range svcs {
		out = append(out, st)
	}
	return out, nil
}

func (s *FileStore) loadSettings() (map[string]string, error) {
	out := map[string]string{}
	if err := readJSON(s.settingsPath(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, err := s.loadSettings()
	if err != nil {
		return "", false, clara.WrapError(clara.KindInternal, "GetSetting", "load settings", err)
	}
	v, ok := settings[key]
	return v, ok, nil
}

func (s *FileStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.loadSettings()
	if err != nil {
		return clara.WrapError(clara.KindInternal, "SetSetting", "load settings", err)
	}
	settings[key] = value
	if err := writeJSONAtomic(s.settingsPath(), settings); err != nil {
		return clara.WrapError(clara.KindInternal, "SetSetting", "write settings", err)
	}
	return nil
}

func (s *FileStore) GetAllSettings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadSettings()
}

func (s *FileStore) loadOverrides() (map[string]string, error) {
	out := map[string]string{}
	if err := readJSON(s.overridesPath(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FileStore) SaveRegoOverride(ctx context.Context, name, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	overrides, err := s.loadOverrides()
	if err != nil {
		return clara.WrapError(clara.KindInternal, "SaveRegoOverride", "load overrides", err)
	}
	overrides[name] = source
	if err := writeJSONAtomic(s.overridesPath(), overrides); err != nil {
		return clara.WrapError(clara.KindInternal, "SaveRegoOverride", "write overrides", err)
	}
	return nil
}

func (s *FileStore) GetRegoOverrides(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadOverrides()
}

func (s *FileStore) DeleteRegoOverride(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	overrides, err := s.loadOverrides()
	if err != nil {
		return clara.WrapError(clara.KindInternal, "DeleteRegoOverride", "load overrides", err)
	}
	if _, ok := overrides[name]; !ok {
		return clara.NewError(clara.KindNotFound, "DeleteRegoOverride", "no override named "+name)
	}
	delete(overrides, name)
	return writeJSONAtomic(s.overridesPath(), overrides)
}

func (s *FileStore) Close() error { return nil }
