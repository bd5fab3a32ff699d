// Package workertest provides an in-memory agent that speaks the worker
// channel protocol, for tests of code built on package worker.
package workertest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ruffel/remotefs/agent"
	"github.com/ruffel/remotefs/transport"
	"github.com/ruffel/remotefs/worker"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultCacheKey is a 32-byte key in hex, suitable for AES-256.
const DefaultCacheKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type node struct {
	dir     bool
	symlink bool
	data    []byte
	ctime   time.Time
	mtime   time.Time
}

type request struct {
	_msgpack struct{} `msgpack:",as_array"` //nolint:unused

	Op   string
	Args msgpack.RawMessage
}

// Agent is a fake remote agent backed by an in-memory tree.
type Agent struct {
	mu          sync.Mutex
	home        string
	cacheKey    string
	newCacheKey bool
	nodes       map[string]*node
	watches     map[string]worker.WatchArgs
	calls       map[string]int
	gates       map[string]chan struct{}
	sessions    map[*session]struct{}
	starts      int
	failAfter   int
	now         func() time.Time
}

// New returns an agent whose home directory is /home/test.
func New() *Agent {
	a := &Agent{
		home:      "/home/test",
		cacheKey:  DefaultCacheKey,
		nodes:     map[string]*node{},
		watches:   map[string]worker.WatchArgs{},
		calls:     map[string]int{},
		gates:     map[string]chan struct{}{},
		sessions:  map[*session]struct{}{},
		failAfter: -1,
		now:       time.Now,
	}

	a.nodes["/"] = &node{dir: true}
	a.Mkdir("/home/test")

	return a
}

// SetServerInfo changes what serverInfo reports. home is given without a
// trailing slash, the way a shell reports $HOME.
func (a *Agent) SetServerInfo(home, cacheKey string, newCacheKey bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.home = home
	a.cacheKey = cacheKey
	a.newCacheKey = newCacheKey
}

// Mkdir creates p and its parents.
func (a *Agent) Mkdir(p string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.mkdirAll(a.resolve(p))
}

// WriteFile stores data at p, creating parents.
func (a *Agent) WriteFile(p string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p = a.resolve(p)
	a.mkdirAll(path.Dir(p))

	now := a.now()
	a.nodes[p] = &node{data: append([]byte(nil), data...), ctime: now, mtime: now}
}

// Symlink marks an existing entry as a symlink.
func (a *Agent) Symlink(p string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n, ok := a.nodes[a.resolve(p)]; ok {
		n.symlink = true
	}
}

// ReadFile returns the content stored at p.
func (a *Agent) ReadFile(p string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n, ok := a.nodes[a.resolve(p)]
	if !ok || n.dir {
		return nil, false
	}

	return append([]byte(nil), n.data...), true
}

// Exists reports whether p is present.
func (a *Agent) Exists(p string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.nodes[a.resolve(p)]

	return ok
}

// Calls returns how many times op has been served.
func (a *Agent) Calls(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.calls[op]
}

// Watches returns a copy of the active subscriptions keyed by id.
func (a *Agent) Watches() map[string]worker.WatchArgs {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]worker.WatchArgs, len(a.watches))
	for k, v := range a.watches {
		out[k] = v
	}

	return out
}

// Starts returns how many channels were started through Start.
func (a *Agent) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.starts
}

// FailStartsAfter makes every Start after the first n fail.
func (a *Agent) FailStartsAfter(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failAfter = n
}

// Block holds every request for op until the returned release is called.
func (a *Agent) Block(op string) (release func()) {
	gate := make(chan struct{})

	a.mu.Lock()
	a.gates[op] = gate
	a.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			a.mu.Lock()
			if a.gates[op] == gate {
				delete(a.gates, op)
			}
			a.mu.Unlock()
			close(gate)
		})
	}
}

// Emit sends ev to every connected watch channel.
func (a *Agent) Emit(ev worker.WatchEvent) {
	a.mu.Lock()
	targets := make([]*session, 0, len(a.sessions))

	for s := range a.sessions {
		if s.watcher {
			targets = append(targets, s)
		}
	}
	a.mu.Unlock()

	payload, _ := msgpack.Marshal(ev)
	for _, s := range targets {
		_ = s.send(worker.Response{Status: worker.StatusEvent, Payload: payload})
	}
}

// Kill drops every open channel, the way a lost SSH connection would.
func (a *Agent) Kill() {
	a.mu.Lock()
	sessions := make([]*session, 0, len(a.sessions))

	for s := range a.sessions {
		sessions = append(sessions, s)
	}
	a.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// Pipe serves a new channel in memory and returns its client end.
func (a *Agent) Pipe(watcher bool) io.ReadWriteCloser {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	s := &session{agent: a, r: reqR, w: respW, watcher: watcher, closers: []io.Closer{reqR, respW}}
	a.register(s)

	go func() {
		defer a.unregister(s)

		err := s.serve()
		_ = respW.CloseWithError(err)
	}()

	return &pipeEnd{r: respR, w: reqW}
}

// Start serves cmd's stdio as an agent channel. It satisfies the Start
// method of transport.Environment, so tests can route worker launches here.
// The watch mode is selected when the command line mentions the watcher
// argument.
func (a *Agent) Start(ctx context.Context, cmd *transport.Command) (transport.Process, error) {
	a.mu.Lock()
	a.starts++

	if a.failAfter >= 0 && a.starts > a.failAfter {
		a.mu.Unlock()

		return nil, &transport.TransportError{Command: cmd, Err: errors.New("channel open failed")}
	}
	a.mu.Unlock()

	if cmd.Stdin == nil || cmd.Stdout == nil {
		return nil, errors.New("workertest: command needs stdin and stdout")
	}

	watcher := strings.Contains(cmd.String(), agent.WatcherArg)

	var closers []io.Closer
	if c, ok := cmd.Stdin.(io.Closer); ok {
		closers = append(closers, c)
	}

	s := &session{agent: a, r: cmd.Stdin, w: cmd.Stdout, watcher: watcher, closers: closers}
	p := &process{done: make(chan struct{}), s: s}

	a.register(s)

	go func() {
		defer close(p.done)
		defer a.unregister(s)

		p.err = s.serve()
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-p.done:
		}
	}()

	return p, nil
}

type pipeEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipeEnd) Close() error {
	_ = p.w.Close()

	return p.r.Close()
}

type process struct {
	s    *session
	done chan struct{}
	err  error
}

func (p *process) Wait() error {
	<-p.done

	if errors.Is(p.err, io.EOF) || errors.Is(p.err, io.ErrClosedPipe) {
		return nil
	}

	return p.err
}

func (p *process) Result() *transport.Result {
	select {
	case <-p.done:
		return &transport.Result{}
	default:
		return &transport.Result{ExitCode: -1}
	}
}

func (p *process) Close() error {
	p.s.close()

	return nil
}

type session struct {
	agent   *Agent
	r       io.Reader
	w       io.Writer
	watcher bool
	closers []io.Closer

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (s *session) send(resp worker.Response) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	return worker.WriteFrame(s.w, resp)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		for _, c := range s.closers {
			_ = c.Close()
		}

		if c, ok := s.w.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

func (a *Agent) register(s *session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sessions[s] = struct{}{}
}

func (a *Agent) unregister(s *session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.sessions, s)
}

func (s *session) serve() error {
	a := s.agent

	for {
		body, err := worker.ReadFrameBytes(s.r)
		if err != nil {
			return err
		}

		var req request
		if err := msgpack.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("workertest: bad request: %w", err)
		}

		a.mu.Lock()
		a.calls[req.Op]++
		gate := a.gates[req.Op]
		a.mu.Unlock()

		if gate != nil {
			<-gate
		}

		if err := s.send(a.handle(req, s.watcher)); err != nil {
			return err
		}
	}
}

func ok(v any) worker.Response {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fail(worker.CodeAccess, err.Error())
	}

	return worker.Response{Status: worker.StatusOK, Payload: payload}
}

func fail(code, msg string) worker.Response {
	payload, _ := msgpack.Marshal(worker.ErrorPayload{Code: code, Message: msg})

	return worker.Response{Status: worker.StatusError, Payload: payload}
}

func decodeArgs[T any](raw msgpack.RawMessage) (T, error) {
	var v T
	err := msgpack.Unmarshal(raw, &v)

	return v, err
}

func (a *Agent) handle(req request, watcher bool) worker.Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch req.Op {
	case worker.OpServerInfo:
		return ok(worker.ServerInfo{Home: a.home, CacheKey: a.cacheKey, NewCacheKey: a.newCacheKey})
	case worker.OpExpandPath:
		args, err := decodeArgs[worker.PathArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		return ok(a.resolve(args.Path))
	case worker.OpList:
		args, err := decodeArgs[worker.PathArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		return a.list(a.resolve(args.Path))
	case worker.OpFileRead:
		args, err := decodeArgs[worker.ReadArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		return a.read(a.resolve(args.Path), args.CachedHash)
	case worker.OpFileWrite:
		args, err := decodeArgs[worker.WriteArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		return a.write(a.resolve(args.Path), args.Data, args.Create, args.Overwrite)
	case worker.OpFileWriteDiff:
		args, err := decodeArgs[worker.WriteDiffArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		return a.writeDiff(a.resolve(args.Path), args)
	case worker.OpRename:
		args, err := decodeArgs[worker.RenameArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		return a.rename(a.resolve(args.From), a.resolve(args.To), args.Overwrite)
	case worker.OpDelete:
		args, err := decodeArgs[worker.PathArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		return a.remove(a.resolve(args.Path))
	case worker.OpMkdir:
		args, err := decodeArgs[worker.PathArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		return a.mkdir(a.resolve(args.Path))
	case worker.OpAddWatch, worker.OpRmWatch:
		if !watcher {
			return fail("EINVAL", "watch operations need a watcher channel")
		}

		return a.watch(req)
	default:
		return fail("EINVAL", "unknown op "+req.Op)
	}
}

func (a *Agent) resolve(p string) string {
	switch {
	case p == "~":
		p = a.home
	case strings.HasPrefix(p, "~/"):
		p = a.home + "/" + p[2:]
	case !strings.HasPrefix(p, "/"):
		p = a.home + "/" + p
	}

	return path.Clean(p)
}

func (a *Agent) mkdirAll(p string) {
	for dir := p; ; dir = path.Dir(dir) {
		if _, ok := a.nodes[dir]; !ok {
			now := a.now()
			a.nodes[dir] = &node{dir: true, ctime: now, mtime: now}
		}

		if dir == "/" {
			return
		}
	}
}

func (n *node) stat() worker.Stat {
	var t worker.FileType
	if n.dir {
		t = worker.TypeDirectory
	} else {
		t = worker.TypeFile
	}

	if n.symlink {
		t |= worker.TypeSymlink
	}

	return worker.Stat{
		Type:  t,
		Ctime: n.ctime.UnixMilli(),
		Mtime: n.mtime.UnixMilli(),
		Size:  int64(len(n.data)),
	}
}

func (a *Agent) list(p string) worker.Response {
	n, exists := a.nodes[p]

	switch {
	case !exists:
		return fail(worker.CodeNotFound, "no such file or directory: "+p)
	case !n.dir:
		return fail(worker.CodeNotDir, "not a directory: "+p)
	}

	out := map[string]worker.Stat{}

	for child, cn := range a.nodes {
		if child != "/" && path.Dir(child) == p {
			out[path.Base(child)] = cn.stat()
		}
	}

	return ok(out)
}

func (a *Agent) read(p, cachedHash string) worker.Response {
	n, exists := a.nodes[p]

	switch {
	case !exists:
		return fail(worker.CodeNotFound, "no such file: "+p)
	case n.dir:
		return fail(worker.CodeIsDir, "is a directory: "+p)
	}

	hash := worker.Hash(n.data)
	if cachedHash != "" && cachedHash == hash {
		return ok(worker.ReadResult{Unchanged: true, Hash: hash})
	}

	return ok(worker.ReadResult{Data: n.data, Hash: hash})
}

func (a *Agent) checkWrite(p string, create, overwrite bool) (worker.Response, bool) {
	n, exists := a.nodes[p]

	switch {
	case exists && n.dir:
		return fail(worker.CodeIsDir, "is a directory: "+p), false
	case exists && !overwrite:
		return fail(worker.CodeExists, "file exists: "+p), false
	case !exists && !create:
		return fail(worker.CodeNotFound, "no such file: "+p), false
	}

	parent, ok := a.nodes[path.Dir(p)]
	if !ok {
		return fail(worker.CodeNotFound, "no such directory: "+path.Dir(p)), false
	}

	if !parent.dir {
		return fail(worker.CodeNotDir, "not a directory: "+path.Dir(p)), false
	}

	return worker.Response{}, true
}

func (a *Agent) store(p string, data []byte) {
	now := a.now()

	if n, exists := a.nodes[p]; exists {
		n.data = data
		n.mtime = now

		return
	}

	a.nodes[p] = &node{data: data, ctime: now, mtime: now}
}

func (a *Agent) write(p string, data []byte, create, overwrite bool) worker.Response {
	if resp, valid := a.checkWrite(p, create, overwrite); !valid {
		return resp
	}

	a.store(p, append([]byte(nil), data...))

	return ok(nil)
}

func (a *Agent) writeDiff(p string, args worker.WriteDiffArgs) worker.Response {
	if resp, valid := a.checkWrite(p, args.Create, args.Overwrite); !valid {
		return resp
	}

	var base []byte
	if n, exists := a.nodes[p]; exists {
		base = n.data
	}

	if worker.Hash(base) != args.BaseHash {
		return fail(worker.CodeHashMismatch, "base content changed: "+p)
	}

	data, err := worker.ApplyDelta(base, args.Delta)
	if err != nil {
		return fail("EINVAL", err.Error())
	}

	a.store(p, data)

	return ok(nil)
}

func (a *Agent) subtree(p string) []string {
	var out []string

	for k := range a.nodes {
		if k == p || strings.HasPrefix(k, p+"/") {
			out = append(out, k)
		}
	}

	sort.Strings(out)

	return out
}

func (a *Agent) rename(from, to string, overwrite bool) worker.Response {
	if _, exists := a.nodes[from]; !exists {
		return fail(worker.CodeNotFound, "no such file: "+from)
	}

	if _, exists := a.nodes[to]; exists {
		if !overwrite {
			return fail(worker.CodeExists, "file exists: "+to)
		}

		for _, k := range a.subtree(to) {
			delete(a.nodes, k)
		}
	}

	if _, exists := a.nodes[path.Dir(to)]; !exists {
		return fail(worker.CodeNotFound, "no such directory: "+path.Dir(to))
	}

	for _, k := range a.subtree(from) {
		a.nodes[to+strings.TrimPrefix(k, from)] = a.nodes[k]
		delete(a.nodes, k)
	}

	return ok(nil)
}

func (a *Agent) remove(p string) worker.Response {
	if _, exists := a.nodes[p]; !exists {
		return fail(worker.CodeNotFound, "no such file: "+p)
	}

	if p == "/" {
		return fail(worker.CodePermission, "refusing to delete /")
	}

	for _, k := range a.subtree(p) {
		delete(a.nodes, k)
	}

	return ok(nil)
}

func (a *Agent) mkdir(p string) worker.Response {
	if _, exists := a.nodes[p]; exists {
		return fail(worker.CodeExists, "file exists: "+p)
	}

	parent, exists := a.nodes[path.Dir(p)]
	if !exists {
		return fail(worker.CodeNotFound, "no such directory: "+path.Dir(p))
	}

	if !parent.dir {
		return fail(worker.CodeNotDir, "not a directory: "+path.Dir(p))
	}

	now := a.now()
	a.nodes[p] = &node{dir: true, ctime: now, mtime: now}

	return ok(nil)
}

func (a *Agent) watch(req request) worker.Response {
	if req.Op == worker.OpRmWatch {
		args, err := decodeArgs[worker.UnwatchArgs](req.Args)
		if err != nil {
			return fail("EINVAL", err.Error())
		}

		delete(a.watches, args.ID)

		return ok(nil)
	}

	args, err := decodeArgs[worker.WatchArgs](req.Args)
	if err != nil {
		return fail("EINVAL", err.Error())
	}

	args.Path = a.resolve(args.Path)
	if _, exists := a.nodes[args.Path]; !exists {
		return fail(worker.CodeNotFound, "no such file: "+args.Path)
	}

	a.watches[args.ID] = args

	return ok(nil)
}
