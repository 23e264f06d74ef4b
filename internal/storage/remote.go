package storage

import (
	"encoding/csv"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/vcs"

	"github.com/sworg/swbuild/internal/catalog"
	"github.com/sworg/swbuild/internal/fsutil"
	"github.com/sworg/swbuild/internal/pkgid"
	"github.com/sworg/swbuild/internal/swerr"
	"github.com/sworg/swbuild/internal/swlog"
)

// refreshInterval is how long a mirrored catalog is trusted before the
// remote's version file is consulted again
const refreshInterval = 15 * time.Minute

// RemoteSpec is the subset of a spec document's remote declaration this
// storage needs: the registry URL, the catalog download/version-root URLs,
// one or more data-source URL templates (substituting `{PHPF}`/`{FN}`),
// and an optional git mirror URL.
type RemoteSpec struct {
	RegistryURL       string
	CatalogURL        string
	CatalogVersionURL string
	DataSourceURLs    []string
	GitMirrorURL      string
	ForcedRemoteOnly  bool // Resolve returns false without consulting the mirrored catalog
}

// RemoteStorage is the remote storage: a mirrored
// catalog refreshed on an interval, plus a multi-source file accessor with
// strong/weak hash verification and retry-on-mismatch-via-reresolve.
type RemoteStorage struct {
	spec   RemoteSpec
	mirror *catalog.Catalog
	mirDir string
	client *http.Client
	log    *swlog.Logger
}

// NewRemoteStorage opens (or creates) the mirrored catalog under mirrorDir
// and returns a RemoteStorage ready to sync and resolve.
func NewRemoteStorage(spec RemoteSpec, mirrorDir string, log *swlog.Logger) (*RemoteStorage, error) {
	if log == nil {
		log = swlog.Nop()
	}
	if err := os.MkdirAll(mirrorDir, 0o755); err != nil {
		return nil, swerr.Wrap(swerr.Network, err, "remote storage: create mirror dir %s", mirrorDir)
	}
	cat, err := catalog.Open(filepath.Join(mirrorDir, "packages.db"))
	if err != nil {
		return nil, err
	}
	return &RemoteStorage{
		spec:   spec,
		mirror: cat,
		mirDir: mirrorDir,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log,
	}, nil
}

// Close releases the mirrored catalog.
func (r *RemoteStorage) Close() error { return r.mirror.Close() }

// Resolve implements IStorage: in forced-remote mode the mirrored catalog
// is skipped entirely"); otherwise the catalog
// is refreshed if stale, then consulted exactly like local storage.
func (r *RemoteStorage) Resolve(rr *ResolveRequest) bool {
	if r.spec.ForcedRemoteOnly {
		return false
	}
	if err := r.ensureFresh(); err != nil {
		r.log.Warnf("remote storage: catalog refresh failed: %v", err)
	}

	row, ok, err := r.mirror.Resolve(rr.Unresolved.Path.Hash(), rr.Unresolved.Range)
	if err != nil || !ok {
		return false
	}
	name := pkgid.PackageName{Path: rr.Unresolved.Path, Version: row.Version}
	pkg := pkgid.NewPackage(pkgid.PackageId{Name: name, Settings: rr.Settings}, r)
	return rr.SetPackage(pkg)
}

// LoadData loads a resolved package's metadata from the mirrored catalog.
func (r *RemoteStorage) LoadData(id pkgid.PackageId) (pkgid.Data, error) {
	row, ok, err := r.mirror.ExactVersion(id.Name.Path.Hash(), id.Name.Version)
	if err != nil {
		return pkgid.Data{}, err
	}
	if !ok {
		return pkgid.Data{}, swerr.New(swerr.NotResolved, "remote storage: %s not in mirrored catalog", id.Name.String())
	}
	files, err := r.mirror.FilesOf(row.PackageVersionID)
	if err != nil {
		return pkgid.Data{}, err
	}
	data := pkgid.Data{}
	for _, f := range files {
		if f.Type == "archive" {
			data.Hash = f.Hash
		}
	}
	return data, nil
}

// ensureFresh syncs the mirrored catalog when it has gone stale longer than
// refreshInterval.
func (r *RemoteStorage) ensureFresh() error {
	last, err := r.mirror.SyncTime()
	if err != nil {
		return err
	}
	if time.Since(last) < refreshInterval {
		return nil
	}
	return r.forceSync()
}

// forceSync re-syncs the mirrored catalog against the registry
// unconditionally, ignoring refreshInterval. Used both by ensureFresh once
// the mirror has gone stale, and by the install-time hash-mismatch retry
// path, which needs a guaranteed-fresh hash before giving up.
func (r *RemoteStorage) forceSync() error {
	if r.spec.GitMirrorURL != "" {
		if err := r.syncGitMirror(); err == nil {
			return nil
		}
		r.log.Warnf("remote storage: git mirror sync failed, falling back to CSV catalog download")
	}
	return r.syncCSVCatalog()
}

// syncGitMirror clones or updates a local git mirror of the catalog repo
// and bulk-loads its CSV export "pull a git mirror if
// configured and available".
func (r *RemoteStorage) syncGitMirror() error {
	localPath := filepath.Join(r.mirDir, "git")
	repo, err := vcs.NewGitRepo(r.spec.GitMirrorURL, localPath)
	if err != nil {
		return swerr.Wrap(swerr.Network, err, "remote storage: init git mirror repo")
	}
	if repo.CheckLocal() {
		if err := repo.Update(); err != nil {
			return swerr.Wrap(swerr.Network, err, "remote storage: update git mirror")
		}
	} else {
		if err := repo.Get(); err != nil {
			return swerr.Wrap(swerr.Network, err, "remote storage: clone git mirror")
		}
	}

	rows, err := readCatalogCSVDir(localPath)
	if err != nil {
		return err
	}
	return r.mirror.BulkLoadCSV(rows)
}

// syncCSVCatalog downloads the catalog archive's CSV export over HTTP and
// bulk-loads it.
func (r *RemoteStorage) syncCSVCatalog() error {
	if r.spec.CatalogURL == "" {
		return swerr.New(swerr.Network, "remote storage: no catalog URL configured")
	}
	resp, err := r.client.Get(r.spec.CatalogURL)
	if err != nil {
		return swerr.Wrap(swerr.Network, err, "remote storage: download catalog")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return swerr.New(swerr.Network, "remote storage: catalog download returned %s", resp.Status)
	}
	rows, err := parseCatalogCSV(resp.Body)
	if err != nil {
		return err
	}
	return r.mirror.BulkLoadCSV(rows)
}

var csvDenyList = map[string]bool{
	"internal_notes": true,
	"admin_comment":  true,
}

func readCatalogCSVDir(dir string) ([][]string, error) {
	f, err := os.Open(filepath.Join(dir, "packages.csv"))
	if err != nil {
		return nil, swerr.Wrap(swerr.Network, err, "remote storage: open mirrored catalog CSV")
	}
	defer f.Close()
	return parseCatalogCSV(f)
}

// parseCatalogCSV reads a packages.csv export, reading the column set from
// the header and skipping a small deny-list of columns
// "column set read from the CSV header; a small deny-list of columns is
// skipped".
func parseCatalogCSV(rd io.Reader) ([][]string, error) {
	cr := csv.NewReader(rd)
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, swerr.Wrap(swerr.Network, err, "remote storage: read catalog CSV header")
	}
	keep := make([]int, 0, len(header))
	for i, col := range header {
		if !csvDenyList[strings.ToLower(strings.TrimSpace(col))] {
			keep = append(keep, i)
		}
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, swerr.Wrap(swerr.Network, err, "remote storage: read catalog CSV row")
		}
		filtered := make([]string, 0, len(keep))
		for _, idx := range keep {
			if idx < len(rec) {
				filtered = append(filtered, rec[idx])
			}
		}
		rows = append(rows, filtered)
	}
	return rows, nil
}

// CopyResult reports which data source URL satisfied a Copy call and
// whether the match was via the strong or legacy hash.
type CopyResult struct {
	SourceURL  string
	UsedLegacy bool
}

// Copy downloads id's archive to dst, trying each configured data source in
// order and verifying against wantHash (strong) then wantLegacyHash
// (legacy fallback). On total failure where every configured source was
// reached but none matched the expected hash, the registry is re-resolved
// once for a fresh hash and the whole attempt is retried a single time
// before giving up.
func (r *RemoteStorage) Copy(id pkgid.PackageId, wantHash, wantLegacyHash, dst string) (CopyResult, error) {
	res, err := r.attemptCopy(id, wantHash, wantLegacyHash, dst)
	if err == nil {
		return res, nil
	}
	if !swerr.Is(err, swerr.HashMismatch) {
		return CopyResult{}, err
	}

	freshHash, freshErr := r.reresolveHash(id)
	if freshErr != nil || freshHash == "" || freshHash == wantHash {
		return CopyResult{}, err
	}
	r.log.Warnf("remote storage: hash mismatch for %s, re-resolved fresh hash from registry, retrying once", id.Name.String())
	return r.attemptCopy(id, freshHash, wantLegacyHash, dst)
}

// attemptCopy is one pass over every configured data source for id,
// downloading and verifying against wantHash/wantLegacyHash.
func (r *RemoteStorage) attemptCopy(id pkgid.PackageId, wantHash, wantLegacyHash, dst string) (CopyResult, error) {
	subdirs, remainder := pkgid.HashPathRemote(id.Name.Path, id.Name.Version)
	phpf := strings.Join(subdirs, "/")
	fn := remainder + ".tar.gz"

	var lastErr error
	sawMismatch := false
	for _, tmpl := range r.spec.DataSourceURLs {
		url := strings.NewReplacer("{PHPF}", phpf, "{FN}", fn).Replace(tmpl)
		if err := r.download(url, dst); err != nil {
			lastErr = err
			continue
		}
		strong, err := fsutil.StrongFileHash(dst)
		if err == nil && wantHash != "" && strong == wantHash {
			return CopyResult{SourceURL: url}, nil
		}
		if weak, err := fsutil.LegacyFileHash(dst); err == nil && wantLegacyHash != "" && weak == wantLegacyHash {
			return CopyResult{SourceURL: url, UsedLegacy: true}, nil
		}
		os.Remove(dst)
		sawMismatch = true
		lastErr = swerr.New(swerr.HashMismatch, "remote storage: %s did not match catalog hash", url)
	}

	if lastErr == nil {
		lastErr = swerr.New(swerr.Network, "remote storage: no data sources configured")
	}
	kind := swerr.AllSourcesFailed
	if sawMismatch {
		kind = swerr.HashMismatch
	}
	return CopyResult{}, swerr.Wrap(kind, lastErr, "remote storage: all sources failed for %s", id.Name.String())
}

// reresolveHash forces a fresh sync of the mirrored catalog against the
// registry and returns id's archive hash as currently recorded there. Used
// to get a trustworthy hash to retry against after every configured data
// source failed to match the hash the caller started with.
func (r *RemoteStorage) reresolveHash(id pkgid.PackageId) (string, error) {
	if err := r.forceSync(); err != nil {
		return "", err
	}
	row, ok, err := r.mirror.ExactVersion(id.Name.Path.Hash(), id.Name.Version)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", swerr.New(swerr.NotResolved, "remote storage: %s not in mirrored catalog after re-sync", id.Name.String())
	}
	files, err := r.mirror.FilesOf(row.PackageVersionID)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Type == "archive" {
			return f.Hash, nil
		}
	}
	return "", nil
}

func (r *RemoteStorage) download(url, dst string) error {
	resp, err := r.client.Get(url)
	if err != nil {
		return swerr.Wrap(swerr.Network, err, "remote storage: GET %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return swerr.New(swerr.Network, "remote storage: %s returned %s", url, resp.Status)
	}
	f, err := os.Create(dst)
	if err != nil {
		return swerr.Wrap(swerr.Network, err, "remote storage: create %s", dst)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return swerr.Wrap(swerr.Network, err, "remote storage: write %s", dst)
	}
	return nil
}
