package container

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deploymenttheory/go-modi/internal/iofacade"
	"github.com/deploymenttheory/go-modi/internal/segment"
	"howett.net/plist"
)

// bandsSubdir is the fixed subdirectory name a sparse-bundle stores its
// band files under, per spec §4.
const bandsSubdir = "bands"

// bundleInfoPlist mirrors the keys spec §4.4.2 requires plus the advisory
// bundle-type key, following the same plist struct-tag style as udif.go's
// dmgPlist — grounded on the teacher's fileanalyzer/dmg_analyzer.go.
type bundleInfoPlist struct {
	BandDataSize uint64 `plist:"band-size"`
	MediaSize    uint64 `plist:"size"`
	BundleType   string `plist:"diskimage-bundle-type,omitempty"`
}

// DetectSparseBundleXML reports whether buf's first 5 bytes are "<?xml",
// per spec §4.4.2's plist-file detection rule (used for the non-directory
// form of the sparse-bundle path).
func DetectSparseBundleXML(buf []byte) bool {
	return len(buf) >= 5 && string(buf[:5]) == "<?xml"
}

// ParseSparseBundle reads <dirPath>/Info.plist, builds the segment list,
// and attaches every present <bands_dir>/<k_in_lower_hex> band file to a
// fresh iofacade.Pool, per spec §4.6's sparse-bundle opening algorithm.
// bandsDirOverride, if non-empty, replaces the default "<dirPath>/bands"
// location — the Go equivalent of the original library's
// set_band_data_files_path, grounded in original_source/libmodi/
// libmodi_handle.c's libmodi_internal_handle_set_bands_directory_path
// (default join(path, "bands"), overridable before the band files are
// opened).
func ParseSparseBundle(dirPath string, maxOpenHandles int, bandsDirOverride string) (*segment.List, uint64, *iofacade.Pool, error) {
	return parseSparseBundle(dirPath, nil, maxOpenHandles, bandsDirOverride)
}

// ParseSparseBundleWithPool is ParseSparseBundle's "externally-supplied
// pool for band files" variant (spec §6): pool is populated by this call
// (Attach/AttachNone per slot, exactly as ParseSparseBundle does with its
// own pool) but was constructed and is owned by the caller, who is
// responsible for closing it — modi.Handle.Close must not close a pool it
// did not create itself.
func ParseSparseBundleWithPool(dirPath string, pool *iofacade.Pool) (*segment.List, uint64, error) {
	list, mediaSize, _, err := parseSparseBundle(dirPath, pool, 0, "")
	return list, mediaSize, err
}

func parseSparseBundle(dirPath string, externalPool *iofacade.Pool, maxOpenHandles int, bandsDirOverride string) (*segment.List, uint64, *iofacade.Pool, error) {
	infoPath := filepath.Join(dirPath, "Info.plist")
	raw, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, 0, nil, errf(ErrMalformedHeader, "sparsebundle.info_plist", err)
	}

	var info bundleInfoPlist
	if _, err := plist.Unmarshal(raw, &info); err != nil {
		return nil, 0, nil, errf(ErrMalformedHeader, "sparsebundle.info_plist", err)
	}
	if info.BandDataSize == 0 {
		return nil, 0, nil, errf(ErrMalformedHeader, "sparsebundle.band_size", errors.New("band-size is zero"))
	}

	numberOfBands := (info.MediaSize + info.BandDataSize - 1) / info.BandDataSize
	bandsDir := bandsDirOverride
	if bandsDir == "" {
		bandsDir = filepath.Join(dirPath, bandsSubdir)
	}

	pool := externalPool
	if pool == nil {
		pool = iofacade.NewPool(int(numberOfBands), maxOpenHandles)
	}
	var list segment.List
	var remaining = info.MediaSize

	for k := uint64(0); k < numberOfBands; k++ {
		bandPath := filepath.Join(bandsDir, fmt.Sprintf("%x", k))
		st, err := os.Stat(bandPath)

		thisBandWant := info.BandDataSize
		if remaining < thisBandWant {
			thisBandWant = remaining
		}

		if err != nil {
			// Slot absent: the whole band is sparse.
			if aerr := pool.AttachNone(int(k)); aerr != nil {
				return nil, 0, nil, errf(ErrMalformedTable, "sparsebundle.attach", aerr)
			}
			list.Append(0, 0, 0, segment.Sparse, thisBandWant)
			remaining -= thisBandWant
			continue
		}

		fileSize := uint64(st.Size())
		if aerr := pool.Attach(int(k), bandPath, fileSize); aerr != nil {
			return nil, 0, nil, errf(ErrMalformedTable, "sparsebundle.attach", aerr)
		}

		present := fileSize
		if present > thisBandWant {
			present = thisBandWant
		}
		list.Append(uint32(k), 0, present, segment.None, present)
		remaining -= present

		if pad := thisBandWant - present; pad > 0 {
			list.Append(0, 0, 0, segment.Sparse, pad)
			remaining -= pad
		}
	}

	return &list, info.MediaSize, pool, nil
}
