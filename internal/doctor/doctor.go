// Package doctor implements the self-healing diagnostics that scan a
// repository store for defects and, where safe, repair them automatically.
package doctor

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/wreckit/wreckit/internal/item"
	"github.com/wreckit/wreckit/internal/store"
)

// Severity classifies how serious a diagnostic is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Kind identifies the defect category a diagnostic describes.
type Kind string

const (
	KindMalformedItem    Kind = "malformed_item"
	KindUnknownState     Kind = "unknown_state"
	KindMissingArtifact  Kind = "missing_artifact"
	KindIndexDrift       Kind = "index_drift"
	KindStaleLock        Kind = "stale_lock"
	KindOrphanBranch     Kind = "orphan_branch"
	KindMissingBranch    Kind = "missing_branch"
	KindOrdinalGap       Kind = "ordinal_gap"
	KindDirtyWorkingTree Kind = "dirty_working_tree"
)

// Diagnostic is one defect found by a scan, fixed or not.
type Diagnostic struct {
	Severity    Severity `json:"severity"`
	Location    string   `json:"location"`
	Kind        Kind     `json:"kind"`
	Description string   `json:"description"`
	Fixed       bool     `json:"fixed"`
}

// healingLogEntry is what gets appended to healing-log.jsonl for every
// applied fix, independent of the diagnostic report returned to the caller.
type healingLogEntry struct {
	Time        time.Time `json:"time"`
	Kind        Kind      `json:"kind"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
}

// VCS is the minimal collaborator the orphan-branch and working-tree checks
// need; the full git driver contract lives in the phase package.
type VCS interface {
	DeleteBranch(branch string) error
	BranchExists(branch string) (bool, error)
	WorkingTreeDirty(dir string) (bool, error)
	Stash(dir string) error
}

// Doctor scans a store for defects and, when asked, repairs them.
type Doctor struct {
	Store *store.Store
	VCS   VCS // nil disables the branch-related checks

	// BranchPrefix is prepended to an item's ID to compute the branch name
	// an item is expected to have once it reaches implementing; it must
	// match the prefix the runner itself uses (config.BranchPrefix) or the
	// orphan/missing-branch checks will misfire against every item.
	BranchPrefix string

	// AllowBranchDeletion must be set in addition to fix for orphan
	// branches to actually be deleted; branch cleanup is destructive and
	// opts in separately from every other fix action.
	AllowBranchDeletion bool
}

// New constructs a Doctor bound to a store, defaulting BranchPrefix to
// "wreckit/" (the config package's own default) so callers that only pass a
// VCS still get working branch checks.
func New(st *store.Store, vcs VCS) *Doctor {
	return &Doctor{Store: st, VCS: vcs, BranchPrefix: "wreckit/"}
}

// Diagnose runs every detector without applying any fix.
func (d *Doctor) Diagnose() ([]Diagnostic, error) {
	return d.run(false)
}

// ApplyFixes runs every detector and repairs what it safely can, appending
// one healing-log entry per fix applied.
func (d *Doctor) ApplyFixes() ([]Diagnostic, error) {
	return d.run(true)
}

// run is diagnose/apply_fixes' shared body: detectors are independent and
// each returns its own diagnostics, fixing in place when fix is true.
func (d *Doctor) run(fix bool) ([]Diagnostic, error) {
	var all []Diagnostic

	itemDiags, err := d.checkItems(fix)
	if err != nil {
		return nil, err
	}
	all = append(all, itemDiags...)

	indexDiags, err := d.checkIndex(fix)
	if err != nil {
		return nil, err
	}
	all = append(all, indexDiags...)

	lockDiags, err := d.checkStaleLocks(fix)
	if err != nil {
		return nil, err
	}
	all = append(all, lockDiags...)

	gapDiags, err := d.checkOrdinalGaps()
	if err != nil {
		return nil, err
	}
	all = append(all, gapDiags...)

	if d.VCS != nil {
		orphanDiags, err := d.checkOrphanBranches(fix)
		if err != nil {
			return nil, err
		}
		all = append(all, orphanDiags...)

		missingDiags, err := d.checkMissingBranches()
		if err != nil {
			return nil, err
		}
		all = append(all, missingDiags...)

		treeDiags, err := d.checkDirtyWorkingTrees(fix)
		if err != nil {
			return nil, err
		}
		all = append(all, treeDiags...)
	}

	return all, nil
}

func (d *Doctor) log(diag Diagnostic) {
	_ = d.Store.AppendHealingLog(healingLogEntry{
		Time:        time.Now(),
		Kind:        diag.Kind,
		Location:    diag.Location,
		Description: diag.Description,
	})
}

// checkItems walks every item directory, detecting malformed item.json,
// unknown state values, and missing artifacts for the item's current state.
// Malformed items cannot be safely auto-repaired (the record itself is
// unreadable) so they are always reported, never fixed.
func (d *Doctor) checkItems(fix bool) ([]Diagnostic, error) {
	var diags []Diagnostic

	itemsRoot := filepath.Join(d.Store.Root, "items")
	sections, err := os.ReadDir(itemsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return diags, nil
		}
		return nil, err
	}

	for _, section := range sections {
		if !section.IsDir() {
			continue
		}
		sectionDir := filepath.Join(itemsRoot, section.Name())
		entries, err := os.ReadDir(sectionDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			id := section.Name() + "/" + e.Name()
			diags = append(diags, d.checkOneItem(id, fix)...)
		}
	}
	return diags, nil
}

func (d *Doctor) checkOneItem(id string, fix bool) []Diagnostic {
	var diags []Diagnostic

	path := filepath.Join(d.Store.ItemDir(id), "item.json")
	data, err := os.ReadFile(path)
	if err != nil {
		diags = append(diags, Diagnostic{
			Severity: SeverityError, Location: id, Kind: KindMalformedItem,
			Description: "item.json is missing: " + err.Error(),
		})
		return diags
	}

	var it item.Item
	if err := json.Unmarshal(data, &it); err != nil {
		diags = append(diags, Diagnostic{
			Severity: SeverityError, Location: id, Kind: KindMalformedItem,
			Description: "item.json does not parse: " + err.Error(),
		})
		return diags
	}

	if !isKnownState(it.State) {
		diag := Diagnostic{
			Severity: SeverityError, Location: id, Kind: KindUnknownState,
			Description: fmt.Sprintf("state %q is not a recognized value", it.State),
		}
		if fix {
			repaired := highestStateConsistentWithArtifacts(d.Store, id)
			it.State = repaired
			if err := d.Store.SaveItem(&it); err == nil {
				diag.Fixed = true
				diag.Description += fmt.Sprintf("; reset to %s", repaired)
				d.log(diag)
			}
		}
		diags = append(diags, diag)
		return diags
	}

	for _, artifact := range item.RequiredArtifacts(it.State) {
		if !d.Store.ArtifactExists(id, artifact) {
			diag := Diagnostic{
				Severity: SeverityError, Location: id, Kind: KindMissingArtifact,
				Description: fmt.Sprintf("state %s requires %s, which is absent", it.State, artifact),
			}
			if fix {
				repaired := highestStateConsistentWithArtifacts(d.Store, id)
				if repaired != it.State {
					it.State = repaired
					if err := d.Store.SaveItem(&it); err == nil {
						diag.Fixed = true
						diag.Description += fmt.Sprintf("; reset state to %s", repaired)
						d.log(diag)
					}
				}
			}
			diags = append(diags, diag)
		}
	}

	return diags
}

func isKnownState(s item.State) bool {
	switch s {
	case item.StateIdea, item.StateResearching, item.StateResearched,
		item.StatePlanning, item.StatePlanned, item.StateImplementing,
		item.StateCritique, item.StateInPR, item.StateMerged, item.StateDone,
		item.StateAbandoned:
		return true
	}
	return false
}

// highestStateConsistentWithArtifacts walks the state sequence backward
// from the terminal end until it finds the first state whose required
// artifacts are all present, per §4.7's repair rule: reset state to the
// highest value consistent with what's actually on disk.
func highestStateConsistentWithArtifacts(st *store.Store, id string) item.State {
	candidates := []item.State{
		item.StateDone, item.StateMerged, item.StateInPR, item.StateCritique,
		item.StatePlanned, item.StateResearched, item.StateIdea,
	}
	for _, s := range candidates {
		ok := true
		for _, artifact := range item.RequiredArtifacts(s) {
			if !st.ArtifactExists(id, artifact) {
				ok = false
				break
			}
		}
		if ok {
			return s
		}
	}
	return item.StateIdea
}

// checkOrdinalGaps reports sections whose ordinal sequence skips a number,
// informationally only: the store's allocation scheme never reuses a
// deleted item's ordinal, so a gap is expected after a deletion rather than
// a defect, and there is nothing to fix.
func (d *Doctor) checkOrdinalGaps() ([]Diagnostic, error) {
	var diags []Diagnostic

	itemsRoot := filepath.Join(d.Store.Root, "items")
	sections, err := os.ReadDir(itemsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return diags, nil
		}
		return nil, err
	}

	for _, section := range sections {
		if !section.IsDir() {
			continue
		}
		ordinals := sectionOrdinals(filepath.Join(itemsRoot, section.Name()))
		for i := 1; i < len(ordinals); i++ {
			if ordinals[i] != ordinals[i-1]+1 {
				diags = append(diags, Diagnostic{
					Severity: SeverityInfo, Location: section.Name(), Kind: KindOrdinalGap,
					Description: fmt.Sprintf("ordinal sequence jumps from %03d to %03d", ordinals[i-1], ordinals[i]),
				})
			}
		}
	}
	return diags, nil
}

func sectionOrdinals(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var ordinals []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := store.OrdinalOf(e.Name())
		if m >= 0 {
			ordinals = append(ordinals, m)
		}
	}
	sort.Ints(ordinals)
	return ordinals
}

// checkIndex detects drift between index.json and what's actually on disk
// by rebuilding the index in memory and diffing; RebuildIndex itself is the
// fix action.
func (d *Doctor) checkIndex(fix bool) ([]Diagnostic, error) {
	drifted, err := d.Store.IndexDrifted()
	if err != nil {
		return nil, err
	}
	if !drifted {
		return nil, nil
	}

	diag := Diagnostic{
		Severity: SeverityWarning, Location: d.Store.Root, Kind: KindIndexDrift,
		Description: "index.json does not match the items on disk",
	}
	if fix {
		if err := d.Store.RebuildIndex(); err == nil {
			diag.Fixed = true
			d.log(diag)
		}
	}
	return []Diagnostic{diag}, nil
}

// checkStaleLocks finds lock files whose recorded pid no longer exists and
// removes them. The flock itself is released when its holder exits, so such
// a file blocks no one; it is left behind carrying a dead pid.
func (d *Doctor) checkStaleLocks(fix bool) ([]Diagnostic, error) {
	var diags []Diagnostic

	itemsRoot := filepath.Join(d.Store.Root, "items")
	locks, walkErr := findLockFiles(itemsRoot)
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return diags, nil
		}
		return nil, walkErr
	}

	for _, lockPath := range locks {
		pid, readErr := readLockPID(lockPath)
		if readErr != nil || pid <= 0 || !processAlive(pid) {
			diag := Diagnostic{
				Severity: SeverityWarning, Location: lockPath, Kind: KindStaleLock,
				Description: "lock file held by a process that is no longer running",
			}
			if fix {
				if err := os.Remove(lockPath); err == nil {
					diag.Fixed = true
					d.log(diag)
				}
			}
			diags = append(diags, diag)
		}
	}
	return diags, nil
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var pid int
	_, err = fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid)
	return pid, err
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On unix, FindProcess always succeeds; signal 0 probes liveness
	// without actually sending a signal.
	return proc.Signal(syscall.Signal(0)) == nil
}

// findLockFiles walks the items tree for every .lock file.
func findLockFiles(root string) ([]string, error) {
	var locks []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == ".lock" {
			locks = append(locks, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locks, nil
}

// checkDirtyWorkingTrees reports items whose working tree has uncommitted
// changes. Doctor takes no item lock and does not check for a live runner;
// it treats a dirty tree found here as left behind by a run that stopped
// mid-story. The fix stashes the changes
// so the next implement invocation starts clean; the stash itself is left
// for a human to recover, never dropped.
func (d *Doctor) checkDirtyWorkingTrees(fix bool) ([]Diagnostic, error) {
	var diags []Diagnostic

	ids, err := d.Store.ListItems(func(id string, e store.IndexEntry) bool {
		return e.State == item.StateImplementing
	})
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		dir := d.Store.ItemDir(id)
		dirty, err := d.VCS.WorkingTreeDirty(dir)
		if err != nil || !dirty {
			continue
		}
		diag := Diagnostic{
			Severity: SeverityWarning, Location: id, Kind: KindDirtyWorkingTree,
			Description: "working tree has uncommitted changes from an interrupted implement phase",
		}
		if fix {
			if err := d.VCS.Stash(dir); err == nil {
				diag.Fixed = true
				d.log(diag)
			}
		}
		diags = append(diags, diag)
	}
	return diags, nil
}

// branchPrefix returns the prefix used to compute an item's expected branch
// name, falling back to the config package's own default for a Doctor built
// without one set.
func (d *Doctor) branchPrefix() string {
	if d.BranchPrefix != "" {
		return d.BranchPrefix
	}
	return "wreckit/"
}

// expectedBranch returns the branch name an item would have once it reaches
// implementing: <prefix><id>, the same scheme the runner applies in
// phase.Runner.branchName.
func (d *Doctor) expectedBranch(id string) string {
	return d.branchPrefix() + id
}

// checkOrphanBranches looks for a branch that should not exist yet: an item
// still in idea, researched, planning, or planned has no business owning a
// branch, since branches are only created on entering implementing (§4.3).
// Finding one means a prior implement attempt was abandoned (the item rolled
// back, the branch was never cleaned up); deletion only happens with
// AllowBranchDeletion set in addition to fix, since branch cleanup is
// destructive and opts in separately from every other fix action.
func (d *Doctor) checkOrphanBranches(fix bool) ([]Diagnostic, error) {
	var diags []Diagnostic

	ids, err := d.Store.ListItems(func(id string, e store.IndexEntry) bool {
		switch e.State {
		case item.StateIdea, item.StateResearched, item.StatePlanning, item.StatePlanned:
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		branch := d.expectedBranch(id)
		exists, err := d.VCS.BranchExists(branch)
		if err != nil || !exists {
			continue
		}

		diag := Diagnostic{
			Severity: SeverityWarning, Location: id, Kind: KindOrphanBranch,
			Description: fmt.Sprintf("branch %s exists but item has not reached implementing", branch),
		}
		if fix && d.AllowBranchDeletion {
			if err := d.VCS.DeleteBranch(branch); err == nil {
				diag.Fixed = true
				d.log(diag)
			}
		}
		diags = append(diags, diag)
	}
	return diags, nil
}

// checkMissingBranches looks for the opposite defect: an item at
// implementing or later is required by invariant to have a branch in git,
// since EnsureBranch runs on entering implementing. A missing branch here
// means the branch was deleted out from under the item, or the store was
// restored from a backup that predates branch creation; doctor reports it
// but never recreates the branch itself, since it has no way to know what
// commits belong on it.
func (d *Doctor) checkMissingBranches() ([]Diagnostic, error) {
	var diags []Diagnostic

	ids, err := d.Store.ListItems(func(id string, e store.IndexEntry) bool {
		switch e.State {
		case item.StateImplementing, item.StateCritique, item.StateInPR, item.StateMerged, item.StateDone:
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		branch := d.expectedBranch(id)
		exists, err := d.VCS.BranchExists(branch)
		if err != nil || exists {
			continue
		}

		diags = append(diags, Diagnostic{
			Severity: SeverityError, Location: id, Kind: KindMissingBranch,
			Description: fmt.Sprintf("branch %s is required at this state but absent from the local repository", branch),
		})
	}
	return diags, nil
}
