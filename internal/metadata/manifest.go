package metadata

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"dvetransfer/internal/dve"
)

const (
	manifestPath   = "manifest-sha1.txt"
	pidMappingPath = "metadata/pid-mapping.txt"
)

func readManifest(bag *dve.Bag) ([]FileMeta, error) {
	data, err := bag.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, invalid(CodeInvalidManifest, manifestPath, "manifest missing", nil)
		}
		return nil, err
	}
	uris, err := readPidMapping(bag)
	if err != nil {
		return nil, err
	}

	var files []FileMeta
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		checksum, rel, ok := splitPair(text)
		if !ok || len(checksum) != 40 {
			return nil, invalid(CodeInvalidManifest, manifestPath, "malformed manifest line "+strconv.Itoa(line), nil)
		}
		if _, err := hex.DecodeString(checksum); err != nil {
			return nil, invalid(CodeInvalidManifest, manifestPath, "malformed checksum on line "+strconv.Itoa(line), err)
		}
		info, err := statEither(bag.FS(), rel)
		if err != nil {
			return nil, invalid(CodeInvalidManifest, rel, "manifest entry not present in bag", err)
		}
		normalized := norm.NFC.String(rel)
		files = append(files, FileMeta{
			Path: path.Join(bag.Base, normalized),
			URI:  uris[normalized],
			Size: info.Size(),
			SHA1: strings.ToLower(checksum),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, invalid(CodeInvalidManifest, manifestPath, "manifest unreadable", err)
	}
	return files, nil
}

// readPidMapping maps NFC bag-relative paths to content URIs. The file is
// optional.
func readPidMapping(bag *dve.Bag) (map[string]string, error) {
	uris := make(map[string]string)
	data, err := bag.ReadFile(pidMappingPath)
	if errors.Is(err, fs.ErrNotExist) {
		return uris, nil
	}
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		uri, rel, ok := splitPair(strings.TrimRight(scanner.Text(), "\r"))
		if !ok {
			continue
		}
		uris[norm.NFC.String(strings.TrimSuffix(rel, "/"))] = uri
	}
	return uris, scanner.Err()
}

// splitPair splits "<token> <rest>" on the first run of blanks.
func splitPair(line string) (string, string, bool) {
	idx := strings.IndexAny(line, " \t")
	if idx <= 0 {
		return "", "", false
	}
	rest := strings.TrimLeft(line[idx:], " \t")
	if rest == "" {
		return "", "", false
	}
	return line[:idx], rest, true
}

// statEither looks a path up as written, then in NFC and NFD form.
func statEither(fsys fs.FS, rel string) (fs.FileInfo, error) {
	info, err := fs.Stat(fsys, rel)
	if err == nil {
		return info, nil
	}
	for _, form := range []norm.Form{norm.NFC, norm.NFD} {
		if alt := form.String(rel); alt != rel {
			if info, altErr := fs.Stat(fsys, alt); altErr == nil {
				return info, nil
			}
		}
	}
	return nil, err
}
