package synapsedb

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/synapsedb/synapsedb/internal/dict"
	"github.com/synapsedb/synapsedb/internal/hotness"
	"github.com/synapsedb/synapsedb/internal/lsmlite"
	"github.com/synapsedb/synapsedb/internal/obs"
	"github.com/synapsedb/synapsedb/internal/pagestore"
	"github.com/synapsedb/synapsedb/internal/props"
	"github.com/synapsedb/synapsedb/internal/readerreg"
	"github.com/synapsedb/synapsedb/internal/sixindex"
	"github.com/synapsedb/synapsedb/internal/triple"
	"github.com/synapsedb/synapsedb/internal/txregistry"
	"github.com/synapsedb/synapsedb/internal/wal"
)

// Fact is a resolved (subject, predicate, object) triple as seen by
// callers of AddFact/DeleteFact/Find, before dictionary encoding.
type Fact struct {
	Subject   string
	Predicate string
	Object    string
}

// PersistedFact is the result of AddFact: the resolved ids alongside the
// original strings.
type PersistedFact struct {
	Fact
	Triple triple.Triple
}

// CrashPoint names one of the named crash-injection hooks (spec §6),
// fired by Store.fireHook during tests. Production code never sets these.
type CrashPoint string

const (
	HookBeforeMainWrite      CrashPoint = "before-main-write"
	HookBeforePageAppend     CrashPoint = "before-page-append"
	HookBeforeManifestWrite  CrashPoint = "before-manifest-write"
	HookBeforeWALReset       CrashPoint = "before-wal-reset"
	HookGCBeforeRename       CrashPoint = "gc.beforeRename"
	HookGCAfterRename        CrashPoint = "gc.afterRename"
	HookGCBeforeManifestWrite CrashPoint = "gc.beforeManifestWrite"
)

// invertedIndexes owns one props.InvertedIndex per distinct property name
// seen across the node/edge property store (spec §4.7 tracks one name at a
// time; the orchestrator fans that out across every name in use).
type invertedIndexes struct {
	mu  sync.RWMutex
	bag map[string]*props.InvertedIndex
}

func newInvertedIndexes() *invertedIndexes {
	return &invertedIndexes{bag: make(map[string]*props.InvertedIndex)}
}

func (ii *invertedIndexes) get(name string) *props.InvertedIndex {
	ii.mu.RLock()
	idx, ok := ii.bag[name]
	ii.mu.RUnlock()
	if ok {
		return idx
	}
	ii.mu.Lock()
	defer ii.mu.Unlock()
	if idx, ok := ii.bag[name]; ok {
		return idx
	}
	idx = props.NewInvertedIndex()
	ii.bag[name] = idx
	return idx
}

func (ii *invertedIndexes) rebuildAll(store *props.Store) {
	names := make(map[string]struct{})
	for _, m := range store.AllNodes() {
		for k := range m {
			names[k] = struct{}{}
		}
	}
	for _, m := range store.AllEdges() {
		for k := range m {
			names[k] = struct{}{}
		}
	}
	ii.mu.Lock()
	defer ii.mu.Unlock()
	ii.bag = make(map[string]*props.InvertedIndex, len(names))
	for name := range names {
		ii.bag[name] = props.Rebuild(store, name)
	}
}

func (ii *invertedIndexes) reindexNode(nodeID uint32, old, new props.Map) {
	for name, v := range old {
		ii.get(name).UnindexNode(nodeID, v)
	}
	for name, v := range new {
		ii.get(name).IndexNode(nodeID, v)
	}
}

func (ii *invertedIndexes) reindexEdge(key props.EdgeKey, old, new props.Map) {
	for name, v := range old {
		ii.get(name).UnindexEdge(key, v)
	}
	for name, v := range new {
		ii.get(name).IndexEdge(key, v)
	}
}

// Store is the PersistentStore orchestrator (spec §4.10 / C13): it wires
// together the string dictionary, triple set, property store, six-order
// index, paged on-disk files, WAL, tx-id registry, reader registry and
// LSM-lite staging into a single coherent database.
type Store struct {
	mu sync.RWMutex

	name string
	opts Options

	dict     *dict.Dictionary
	triples  *triple.Store
	tomb     *triple.TombstoneSet
	propst   *props.Store
	inverted *invertedIndexes
	index    *sixindex.Index
	hot      *hotness.Counter

	pagesDir string
	manifest *pagestore.Manifest

	walPath string
	w       *wal.Writer

	txids   *txregistry.Registry
	readers *readerreg.Registry
	lock    *readerreg.WriterLock

	staging *lsmlite.Staging

	dirty bool
	// pendingAdds holds every triple added since the last successful
	// Flush, in the order applyEffect saw them; Flush appends only these
	// to the per-order page files, since the page files are append-only
	// within an epoch (spec §4.6) and re-appending the whole live set on
	// every flush would duplicate already-durable pages without bound.
	pendingAdds []triple.Triple

	pinStack []uint64 // epoch stack pushed by WithSnapshot

	hooks map[CrashPoint]func()
}

// Open opens (creating if necessary) the database named name, replaying
// any unflushed WAL and acquiring the writer lock (spec §4.10's open).
func Open(name string, opts Options) (*Store, error) {
	comp := obs.Component("store")
	comp.Info().Str("name", name).Msg("opening database")

	var lock *readerreg.WriterLock
	if opts.EnableLock {
		l, err := readerreg.AcquireWriterLock(name)
		if err != nil {
			return nil, newErr(CodeBusy, "acquiring writer lock", err)
		}
		lock = l
	} else if _, err := os.Stat(readerreg.LockPath(name)); err == nil {
		// Open question (spec §9) resolved: reject enableLock:false if a
		// lock file is already present rather than silently proceeding.
		return nil, newErr(CodeBusy, "database locked by another writer", nil)
	}

	containerPath := name + ".synapsedb"
	if err := initializeIfMissing(containerPath); err != nil {
		releaseLock(lock)
		return nil, err
	}
	sec, err := readStorageFile(containerPath)
	if err != nil {
		releaseLock(lock)
		return nil, err
	}

	d := dict.New()
	if len(sec.dictionary) > 0 {
		if err := d.Deserialize(bytesReader(sec.dictionary)); err != nil {
			releaseLock(lock)
			return nil, newErr(CodeStorage, "decoding dictionary section", err)
		}
	}
	tr := triple.New()
	if len(sec.triples) > 0 {
		if err := tr.Deserialize(bytesReader(sec.triples)); err != nil {
			releaseLock(lock)
			return nil, newErr(CodeStorage, "decoding triples section", err)
		}
	}
	idx := sixindex.New()
	if len(sec.indexes) > 0 {
		if err := idx.Deserialize(bytesReader(sec.indexes)); err != nil {
			releaseLock(lock)
			return nil, newErr(CodeStorage, "decoding indexes section", err)
		}
	} else {
		for _, t := range tr.List() {
			idx.Add(t)
		}
	}
	pst := props.New()
	if len(sec.properties) > 0 {
		if err := pst.Deserialize(bytesReader(sec.properties)); err != nil {
			releaseLock(lock)
			return nil, newErr(CodeStorage, "decoding properties section", err)
		}
	}

	pagesDir := name + ".synapsedb.pages"
	compCfg := CompressionConfigFromOptions(opts)
	if err := pagestore.InitializeIfMissing(pagesDir, opts.PageSize, compCfg, time.Now().Unix()); err != nil {
		releaseLock(lock)
		return nil, newErr(CodeStorage, "initializing pages directory", err)
	}
	manifest, err := pagestore.LoadManifest(pagesDir)
	if err != nil {
		releaseLock(lock)
		return nil, newErr(CodeStorage, "loading manifest", err)
	}

	var txids *txregistry.Registry
	if opts.EnablePersistentTxDedupe {
		txids, err = txregistry.Load(pagesDir, opts.MaxRememberTxIds)
		if err != nil {
			releaseLock(lock)
			return nil, newErr(CodeStorage, "loading tx registry", err)
		}
	} else {
		txids = txregistry.New(pagesDir, opts.MaxRememberTxIds)
	}

	walPath := name + ".synapsedb.wal"
	w, err := openOrCreateWAL(walPath)
	if err != nil {
		releaseLock(lock)
		return nil, newErr(CodeStorage, "opening WAL", err)
	}

	inv := newInvertedIndexes()
	inv.rebuildAll(pst)

	s := &Store{
		name:     name,
		opts:     opts,
		dict:     d,
		triples:  tr,
		tomb:     triple.NewTombstoneSet(),
		propst:   pst,
		inverted: inv,
		index:    idx,
		hot:      hotness.New(opts.HotnessHalfLifeSeconds),
		pagesDir: pagesDir,
		manifest: manifest,
		walPath:  walPath,
		w:        w,
		txids:    txids,
		lock:     lock,
		hooks:    make(map[CrashPoint]func()),
	}
	for _, t := range manifest.Tombstones {
		s.tomb.Add(triple.Triple{S: t[0], P: t[1], O: t[2]})
	}

	readers, err := readerreg.Open(pagesDir)
	if err != nil {
		s.closeQuiet()
		return nil, newErr(CodeStorage, "opening reader registry", err)
	}
	s.readers = readers

	staging, err := lsmlite.Open(pagesDir, opts.LSMMemtableThreshold)
	if err != nil {
		s.closeQuiet()
		return nil, newErr(CodeStorage, "opening LSM-lite staging", err)
	}
	s.staging = staging

	if err := s.replayWAL(); err != nil {
		s.closeQuiet()
		return nil, err
	}

	return s, nil
}

func releaseLock(lock *readerreg.WriterLock) {
	if lock != nil {
		_ = lock.Release()
	}
}

func bytesReader(b []byte) *byteReaderAt { return &byteReaderAt{b: b} }

// byteReaderAt is a minimal io.Reader over an in-memory slice, used to feed
// Deserialize methods the container's section buffers.
type byteReaderAt struct {
	b []byte
	i int
}

func (r *byteReaderAt) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

func openOrCreateWAL(path string) (*wal.Writer, error) {
	if _, err := os.Stat(path); err == nil {
		return wal.Open(path)
	}
	return wal.Create(path)
}

// replayWAL runs wal.Replay against the current WAL file, applies every
// surfaced effect (resolving raw strings through the dictionary), truncates
// the WAL to the safe offset, and registers newly-seen committed tx ids
// (spec §4.8's replay algorithm, driving §4.10's open-time recovery).
func (s *Store) replayWAL() error {
	known := s.txids.KnownSet()
	result, err := wal.Replay(s.walPath, known)
	if err != nil {
		return newErr(CodeStorage, "replaying WAL", err)
	}
	for _, eff := range result.Applied {
		s.applyEffect(eff)
	}
	if err := s.w.TruncateTo(result.SafeOffset); err != nil {
		return newErr(CodeStorage, "truncating WAL after replay", err)
	}
	if s.opts.EnablePersistentTxDedupe {
		for _, tx := range result.CommittedTx {
			if err := s.txids.Remember(tx.TxID, tx.SessionID, time.Now().Unix()); err != nil {
				return newErr(CodeStorage, "updating tx registry after replay", err)
			}
		}
	}
	return nil
}

// applyEffect applies one wal.Effect to the live in-memory stores. Replayed
// effects carry raw strings; applyEffect resolves them through the
// dictionary before indexing, since the WAL alone has no dictionary access.
func (s *Store) applyEffect(eff wal.Effect) {
	switch eff.Kind {
	case wal.EffectAdd:
		t := eff.Triple
		if eff.RawSubject != "" || eff.RawPredicate != "" || eff.RawObject != "" {
			t = triple.Triple{
				S: s.dict.GetOrCreateID(eff.RawSubject),
				P: s.dict.GetOrCreateID(eff.RawPredicate),
				O: s.dict.GetOrCreateID(eff.RawObject),
			}
		}
		if s.triples.Add(t) {
			s.index.Add(t)
			s.tomb.Remove(t)
			s.pendingAdds = append(s.pendingAdds, t)
			if err := s.staging.Add(t); err != nil {
				obs.Component("store").Warn().Err(err).Msg("staging add failed")
			}
		}
	case wal.EffectDelete:
		t := eff.Triple
		if eff.RawSubject != "" || eff.RawPredicate != "" || eff.RawObject != "" {
			sid, sok := s.dict.GetID(eff.RawSubject)
			pid, pok := s.dict.GetID(eff.RawPredicate)
			oid, ook := s.dict.GetID(eff.RawObject)
			if !sok || !pok || !ook {
				return
			}
			t = triple.Triple{S: sid, P: pid, O: oid}
		}
		s.tomb.Add(t)
	case wal.EffectSetNodeProps:
		old, _ := s.propst.GetNodeProperties(eff.NodeID)
		s.propst.SetNodeProperties(eff.NodeID, eff.NodeProps)
		s.inverted.reindexNode(eff.NodeID, old, eff.NodeProps)
	case wal.EffectSetEdgeProps:
		old, _ := s.propst.GetEdgeProperties(eff.EdgeKey)
		s.propst.SetEdgeProperties(eff.EdgeKey, eff.EdgeProps)
		s.inverted.reindexEdge(eff.EdgeKey, old, eff.EdgeProps)
	}
}

func (s *Store) fireHook(p CrashPoint) {
	if fn, ok := s.hooks[p]; ok && fn != nil {
		fn()
	}
}

// SetCrashHook installs fn to run at the named crash-injection point,
// for use by tests that exercise crash-safety invariants (spec §6).
func (s *Store) SetCrashHook(p CrashPoint, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[p] = fn
}

// FireHook fires the named crash-injection hook. Exposed for internal/maint,
// whose GC pass runs its own critical section under Lock rather than one of
// Store's own locked methods.
func (s *Store) FireHook(p CrashPoint) {
	s.fireHook(p)
}

// AddFact allocates ids for fact's strings, WAL-appends an addTriple
// record, and either stages it into the open batch frame or applies it
// immediately (the implicit single-record batch, spec §4.8).
func (s *Store) AddFact(fact Fact) (PersistedFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fireHook(HookBeforeMainWrite)

	sid := s.dict.GetOrCreateID(fact.Subject)
	pid := s.dict.GetOrCreateID(fact.Predicate)
	oid := s.dict.GetOrCreateID(fact.Object)
	t := triple.Triple{S: sid, P: pid, O: oid}

	staged, err := s.w.AppendAddEncoded(fact.Subject, fact.Predicate, fact.Object, t)
	if err != nil {
		return PersistedFact{}, newErr(CodeStorage, "appending addTriple to WAL", err)
	}
	if !staged {
		s.applyEffect(wal.Effect{Kind: wal.EffectAdd, Triple: t})
		s.dirty = true
	}
	return PersistedFact{Fact: fact, Triple: t}, nil
}

// DeleteFact WAL-appends a deleteTriple record and tombstones t on apply
// (immediately, or once its batch commits outermost).
func (s *Store) DeleteFact(fact Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fireHook(HookBeforeMainWrite)

	sid := s.dict.GetOrCreateID(fact.Subject)
	pid := s.dict.GetOrCreateID(fact.Predicate)
	oid := s.dict.GetOrCreateID(fact.Object)
	t := triple.Triple{S: sid, P: pid, O: oid}

	staged, err := s.w.AppendDeleteEncoded(fact.Subject, fact.Predicate, fact.Object, t)
	if err != nil {
		return newErr(CodeStorage, "appending deleteTriple to WAL", err)
	}
	if !staged {
		s.applyEffect(wal.Effect{Kind: wal.EffectDelete, Triple: t})
		s.dirty = true
	}
	return nil
}

// SetNodeProperties replaces nodeID's whole property map.
func (s *Store) SetNodeProperties(nodeID uint32, m props.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged, err := s.w.AppendSetNodeProps(nodeID, m)
	if err != nil {
		return newErr(CodeStorage, "appending setNodeProps to WAL", err)
	}
	if !staged {
		s.applyEffect(wal.Effect{Kind: wal.EffectSetNodeProps, NodeID: nodeID, NodeProps: m})
		s.dirty = true
	}
	return nil
}

// SetEdgeProperties replaces key's whole property map.
func (s *Store) SetEdgeProperties(key props.EdgeKey, m props.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged, err := s.w.AppendSetEdgeProps(key, m)
	if err != nil {
		return newErr(CodeStorage, "appending setEdgeProps to WAL", err)
	}
	if !staged {
		s.applyEffect(wal.Effect{Kind: wal.EffectSetEdgeProps, EdgeKey: key, EdgeProps: m})
		s.dirty = true
	}
	return nil
}

// GetNodeId returns the id assigned to s, if known.
func (s *Store) GetNodeId(str string) (uint32, bool) {
	return s.dict.GetID(str)
}

// GetNodeValue returns the string for id, if known.
func (s *Store) GetNodeValue(id uint32) (string, bool) {
	return s.dict.GetValue(id)
}

// GetNodeProperties returns nodeID's property map, if any.
func (s *Store) GetNodeProperties(nodeID uint32) (props.Map, bool) {
	return s.propst.GetNodeProperties(nodeID)
}

// GetEdgeProperties returns key's property map, if any.
func (s *Store) GetEdgeProperties(key props.EdgeKey) (props.Map, bool) {
	return s.propst.GetEdgeProperties(key)
}

// BeginBatch pushes a new nested batch frame (spec §4.8).
func (s *Store) BeginBatch(opts wal.BeginOpts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.BeginBatch(opts)
}

// CommitBatch commits the top batch frame. When the frame is outermost,
// its effects are applied to the live stores and, if it carried a txId,
// the tx registry is updated (spec §4.8/§4.9).
func (s *Store) CommitBatch(durable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.w.CommitBatch(durable)
	if err != nil {
		return newErr(CodeStorage, "committing batch", err)
	}
	if res.Outermost {
		for _, eff := range res.Effects {
			s.applyEffect(eff)
		}
		if len(res.Effects) > 0 {
			s.dirty = true
		}
		if res.TxID != "" && s.opts.EnablePersistentTxDedupe {
			if err := s.txids.Remember(res.TxID, "", time.Now().Unix()); err != nil {
				return newErr(CodeStorage, "updating tx registry", err)
			}
		}
	}
	return nil
}

// AbortBatch discards the top batch frame; none of its effects (or any
// already-merged descendant's) ever reach the live stores.
func (s *Store) AbortBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.AbortBatch()
}

// SnapshotView is the read-only handle passed to WithSnapshot's callback.
type SnapshotView struct {
	store *Store
	epoch uint64
}

// Find returns every live triple matching c as of this snapshot (or, if
// called outside any snapshot, as of the current in-memory state).
func (v *SnapshotView) Find(c sixindex.Criteria) []triple.Triple {
	return v.store.queryLive(c)
}

// WithSnapshot pins the current epoch for the duration of fn (spec §4.9):
// registers a reader record on first pin, executes fn against a
// SnapshotView, then pops the pin and removes the reader record on last pop.
func (s *Store) WithSnapshot(fn func(*SnapshotView) error) error {
	epoch, err := s.PinEpoch()
	if err != nil {
		return err
	}
	err = fn(&SnapshotView{store: s, epoch: epoch})
	if uerr := s.UnpinEpoch(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// PinEpoch pushes the current manifest epoch onto the pin stack, registering
// a reader record on the first pin so GC won't reclaim pages it still needs.
// Exposed for query.Builder's pin()/unpin(), which hold a pin across a
// chain of builder calls rather than a single fn closure.
func (s *Store) PinEpoch() (uint64, error) {
	s.mu.Lock()
	epoch := s.manifest.Epoch
	first := len(s.pinStack) == 0
	s.pinStack = append(s.pinStack, epoch)
	if first && s.readers != nil {
		if err := s.readers.Register(os.Getpid(), epoch, time.Now()); err != nil {
			s.pinStack = s.pinStack[:len(s.pinStack)-1]
			s.mu.Unlock()
			return 0, newErr(CodeStorage, "registering reader", err)
		}
	}
	s.mu.Unlock()
	return epoch, nil
}

// UnpinEpoch pops the most recently pushed epoch, removing the reader
// record once the pin stack drains.
func (s *Store) UnpinEpoch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pinStack) == 0 {
		return nil
	}
	s.pinStack = s.pinStack[:len(s.pinStack)-1]
	last := len(s.pinStack) == 0
	if last && s.readers != nil {
		return s.readers.Unregister(os.Getpid())
	}
	return nil
}

// queryLive answers c against the in-memory triple/index state, filtering
// tombstones. Per spec §4.10's dirty invariant, queries always consult the
// in-memory six-order index rather than disk pages directly; the paged
// files back it up across restarts but are never the live read path.
func (s *Store) queryLive(c sixindex.Criteria) []triple.Triple {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := s.index.Query(c)
	out := make([]triple.Triple, 0, len(matches))
	for _, t := range matches {
		if s.tomb.Has(t) {
			continue
		}
		out = append(out, t)
	}
	if order, primary, ok := primaryForCriteria(c); ok {
		s.hot.Touch(order, primary, time.Now().UnixNano())
	}
	return out
}

// primaryForCriteria picks the order BestOrder would choose for c and
// extracts that order's primary value from c, if c constrains it.
func primaryForCriteria(c sixindex.Criteria) (order sixindex.Order, primary uint32, ok bool) {
	order, ok = sixindex.BestOrder(c)
	if !ok {
		return order, 0, false
	}
	switch order {
	case sixindex.SPO:
		if c.Subject == nil {
			return order, 0, false
		}
		return order, *c.Subject, true
	case sixindex.POS:
		if c.Predicate == nil {
			return order, 0, false
		}
		return order, *c.Predicate, true
	case sixindex.OSP:
		if c.Object == nil {
			return order, 0, false
		}
		return order, *c.Object, true
	default:
		return order, 0, false
	}
}

// Query returns every live triple matching c (spec §4.10's query).
func (s *Store) Query(c sixindex.Criteria) []triple.Triple {
	return s.queryLive(c)
}

// GetStagingMetrics reports the LSM-lite memtable's current size and
// frozen-segment count (spec §4.10; spec §9 resolves the open question of
// scope to "memtable only", matching the source).
func (s *Store) GetStagingMetrics() (lsmlite.Metrics, error) {
	return s.staging.GetStagingMetrics()
}

// Flush merges all staged additions into the per-order page files and
// publishes a new manifest (spec §4.11's 8-step algorithm).
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if !s.dirty {
		return nil
	}

	segTriples, segFiles, err := s.staging.Flush()
	if err != nil {
		return newErr(CodeStorage, "flushing LSM-lite staging", err)
	}

	// Only triples added since the last flush (plus whatever the LSM-lite
	// staging layer had frozen, which may overlap pendingAdds) need new
	// pages; already-durable triples already have descriptors in the
	// manifest from a prior flush.
	seen := make(map[triple.Triple]struct{}, len(s.pendingAdds)+len(segTriples))
	fresh := make([]triple.Triple, 0, len(s.pendingAdds)+len(segTriples))
	for _, t := range s.pendingAdds {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		fresh = append(fresh, t)
	}
	for _, t := range segTriples {
		if _, ok := seen[t]; ok || !s.triples.Has(t) {
			continue
		}
		seen[t] = struct{}{}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		s.dirty = false
		s.pendingAdds = nil
		return nil
	}

	s.fireHook(HookBeforePageAppend)
	newDescs := make(map[sixindex.Order][]pagestore.PageDescriptor, 6)
	maxTriplesPerPage := s.opts.PageSize / 12
	if maxTriplesPerPage <= 0 {
		maxTriplesPerPage = 1
	}
	compCfg := CompressionConfigFromOptions(s.opts)
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		path := pagestore.OrderFilePath(s.pagesDir, o)
		w, err := pagestore.OpenWriter(path, o)
		if err != nil {
			return newErr(CodeStorage, fmt.Sprintf("opening %s page writer", o), err)
		}
		descs, err := pagestore.WriteRuns(w, o, fresh, maxTriplesPerPage, compCfg.Codec, compCfg.Level)
		if err != nil {
			w.Close()
			return newErr(CodeStorage, fmt.Sprintf("writing %s pages", o), err)
		}
		if err := w.Close(); err != nil {
			return newErr(CodeStorage, fmt.Sprintf("closing %s page writer", o), err)
		}
		newDescs[o] = descs
	}

	s.fireHook(HookBeforeManifestWrite)
	for o := sixindex.SPO; o <= sixindex.OPS; o++ {
		s.manifest.AppendDescriptors(o, newDescs[o])
	}
	s.manifest.Epoch++
	s.manifest.Tombstones = tombstonesAsTuples(s.tomb.List())
	if err := s.manifest.Save(s.pagesDir); err != nil {
		return newErr(CodeStorage, "publishing manifest", err)
	}

	s.fireHook(HookBeforeWALReset)
	if err := s.w.Reset(); err != nil {
		return newErr(CodeStorage, "resetting WAL after flush", err)
	}
	if err := s.staging.RemoveSegments(segFiles); err != nil {
		return newErr(CodeStorage, "removing merged LSM-lite segments", err)
	}

	s.dirty = false
	s.pendingAdds = nil
	obs.FlushesTotal.Inc()
	return nil
}

func tombstonesAsTuples(ts []triple.Triple) [][3]uint32 {
	out := make([][3]uint32, len(ts))
	for i, t := range ts {
		out[i] = [3]uint32{t.S, t.P, t.O}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		if out[i][1] != out[j][1] {
			return out[i][1] < out[j][1]
		}
		return out[i][2] < out[j][2]
	})
	return out
}

// Explain reports the index order and primary BestOrder would choose for
// c, its current hotness score, and the number of pages on disk for that
// primary, for use by query.Builder.Explain (spec §4.15).
type Explanation struct {
	Order            sixindex.Order
	UpperBound       int
	PagesForPrimary  int
	HotnessPrimary   float64
}

func (s *Store) Explain(c sixindex.Criteria) Explanation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, primary, ok := primaryForCriteria(c)
	if !ok {
		o, _ := sixindex.BestOrder(c)
		return Explanation{Order: o}
	}
	descs := s.manifest.DescriptorsForPrimary(order, primary)
	return Explanation{
		Order:           order,
		UpperBound:      s.index.Len(),
		PagesForPrimary: len(descs),
		HotnessPrimary:  s.hot.Score(order, primary, time.Now().UnixNano()),
	}
}

// Close persists the in-memory sections into the container file, releases
// the reader registry and writer lock, and closes the WAL handle. It does
// not implicitly flush; callers that want pages updated must call Flush
// first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	var dictBuf, tripleBuf, idxBuf, propBuf sizedBuffer
	if err := s.dict.Serialize(&dictBuf); err != nil {
		return newErr(CodeStorage, "serializing dictionary", err)
	}
	if err := s.triples.Serialize(&tripleBuf); err != nil {
		return newErr(CodeStorage, "serializing triples", err)
	}
	if err := s.index.Serialize(&idxBuf); err != nil {
		return newErr(CodeStorage, "serializing indexes", err)
	}
	if err := s.propst.Serialize(&propBuf); err != nil {
		return newErr(CodeStorage, "serializing properties", err)
	}
	sec := sections{
		dictionary: dictBuf.Bytes(),
		triples:    tripleBuf.Bytes(),
		indexes:    idxBuf.Bytes(),
		properties: propBuf.Bytes(),
	}
	if err := writeStorageFile(s.name+".synapsedb", sec); err != nil {
		return err
	}
	if err := s.w.Close(); err != nil {
		return newErr(CodeStorage, "closing WAL", err)
	}
	if s.readers != nil {
		_ = s.readers.Unregister(os.Getpid())
	}
	releaseLock(s.lock)
	return nil
}

// closeQuiet is used during Open's failure paths, where partial
// initialization means some fields may still be nil.
func (s *Store) closeQuiet() {
	if s.w != nil {
		_ = s.w.Close()
	}
	releaseLock(s.lock)
}

// sizedBuffer is a tiny growable byte buffer implementing io.Writer,
// avoiding a bytes.Buffer import purely for Serialize's sake.
type sizedBuffer struct {
	b []byte
}

func (s *sizedBuffer) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}

func (s *sizedBuffer) Bytes() []byte { return s.b }

// CompressionConfigFromOptions builds a pagestore.CompressionConfig from
// opts, shared between Open's InitializeIfMissing and Flush's page writers.
func CompressionConfigFromOptions(opts Options) pagestore.CompressionConfig {
	return pagestore.CompressionConfig{Codec: opts.CompressionCodec, Level: opts.CompressionLevel}
}

// Name returns the database's base name, as passed to Open, for the
// maintenance/check tooling that needs to address the container and WAL
// files alongside the pages directory.
func (s *Store) Name() string { return s.name }

// WALPath returns the write-ahead log file path.
func (s *Store) WALPath() string { return s.walPath }

// PagesDir returns the directory holding this database's per-order page
// files, manifest, and sidecar registries. Exposed for the maintenance
// (compaction/GC/repair) packages, which operate on the same directory.
func (s *Store) PagesDir() string { return s.pagesDir }

// Manifest returns the current manifest. Callers in internal/maint hold
// the store's lock for the duration of any compaction/GC pass.
func (s *Store) Manifest() *pagestore.Manifest { return s.manifest }

// Dictionary exposes the string dictionary to callers outside the package,
// such as the CLI's stats and dump commands.
func (s *Store) Dictionary() *dict.Dictionary { return s.dict }

// Properties exposes the property store to the query package.
func (s *Store) Properties() *props.Store { return s.propst }

// InvertedIndex returns the per-property-name inverted index, lazily
// created (and empty) if name has never been seen.
func (s *Store) InvertedIndex(name string) *props.InvertedIndex {
	return s.inverted.get(name)
}

// HotnessCounter exposes the hotness counter to the compaction engine's
// incremental-mode selection.
func (s *Store) HotnessCounter() *hotness.Counter { return s.hot }

// ReaderRegistry exposes the reader registry to GC/compaction for
// pinned-epoch safety checks.
func (s *Store) ReaderRegistry() *readerreg.Registry { return s.readers }

// TxRegistry exposes the tx-id registry to the CLI's `txids` command.
func (s *Store) TxRegistry() *txregistry.Registry { return s.txids }

// Tombstones exposes the tombstone set to the compaction engine.
func (s *Store) Tombstones() *triple.TombstoneSet { return s.tomb }

// TripleStore exposes the in-memory triple set to the compaction and
// repair engines, which reconstruct page files from it directly.
func (s *Store) TripleStore() *triple.Store { return s.triples }

// SixIndex exposes the six-order index to internal/maint's compaction pass.
func (s *Store) SixIndex() *sixindex.Index { return s.index }

// ReplaceManifest swaps in a newly-published manifest (used by compaction
// and GC once their atomic rename has landed) without going through Flush.
func (s *Store) ReplaceManifest(m *pagestore.Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = m
}

// Lock acquires the orchestrator's mutex for the duration of a maintenance
// pass (compaction/GC/repair), returning the unlock function.
func (s *Store) Lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// RebuildIndexes reconstructs the six-order index and every inverted
// property index from the live triple and property stores, for the
// repair engine's --rebuild-indexes flag. Callers running under their own
// s.Lock() must release it first, since this takes s.mu itself.
func (s *Store) RebuildIndexes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Rebuild(s.triples.List())
	s.inverted.rebuildAll(s.propst)
}
