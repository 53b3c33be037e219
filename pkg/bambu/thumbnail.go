// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"path"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

// ErrThumbnailNotFound is returned when a file carries no usable preview.
var ErrThumbnailNotFound = errors.New("thumbnail not found")

// Preview entries inside a project archive, in order of preference
var archiveThumbnails = []string{
	"Metadata/plate_1_small.png",
	"Metadata/plate_1.png",
}

// DecodeThumbnail extracts the preview of a print file and returns it as a
// 32x32 PNG. G-code files carry base64 blocks in their header comments;
// project archives carry PNG entries under Metadata/.
func DecodeThumbnail(name string, r io.Reader) (printer.Thumbnail, error) {
	var (
		img image.Image
		err error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".gcode":
		img, err = gcodeThumbnail(r)
	case ".3mf":
		img, err = archiveThumbnail(r)
	default:
		return printer.Thumbnail{}, fmt.Errorf("%w: unsupported file type %s", ErrThumbnailNotFound, name)
	}
	if err != nil {
		return printer.Thumbnail{}, err
	}
	return encodeThumbnail(img)
}

type gcodeBlock struct {
	width, height int
	data          strings.Builder
}

// gcodeThumbnail scans header comments such as
//
//	; thumbnail begin 32x32 1528
//	; iVBORw0KGgoAAAANSUhEUgAAACAAAAAgCAYAAABzenr0AAAABHNCSVQICAgIfAhkiAAA...
//	; thumbnail end
//
// An exact 32x32 block wins; otherwise the largest block is used. Scanning
// stops at the first G-code line after a block has been seen.
func gcodeThumbnail(r io.Reader) (image.Image, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		best    *gcodeBlock
		current *gcodeBlock
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ";") {
			if best != nil {
				break
			}
			continue
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, ";"))

		if current != nil {
			if isThumbnailMarker(body, "end") {
				if best == nil || current.width*current.height > best.width*best.height ||
					(current.width == thumbnailSize && current.height == thumbnailSize) {
					best = current
				}
				if best.width == thumbnailSize && best.height == thumbnailSize {
					break
				}
				current = nil
				continue
			}
			current.data.WriteString(body)
			continue
		}

		if isThumbnailMarker(body, "begin") {
			w, h := parseThumbnailSize(body)
			current = &gcodeBlock{width: w, height: h}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read gcode: %w", err)
	}
	if best == nil {
		return nil, ErrThumbnailNotFound
	}

	raw, err := base64.StdEncoding.DecodeString(best.data.String())
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64: %v", ErrThumbnailNotFound, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrThumbnailNotFound, err)
	}
	return img, nil
}

// isThumbnailMarker matches "thumbnail begin", "thumbnail_PNG begin" and
// friends.
func isThumbnailMarker(body, marker string) bool {
	fields := strings.Fields(body)
	if len(fields) < 2 || fields[1] != marker {
		return false
	}
	return fields[0] == "thumbnail" || strings.HasPrefix(fields[0], "thumbnail_")
}

func parseThumbnailSize(body string) (int, int) {
	fields := strings.Fields(body)
	if len(fields) < 3 {
		return 0, 0
	}
	dims := strings.SplitN(fields[2], "x", 2)
	if len(dims) != 2 {
		return 0, 0
	}
	w, _ := strconv.Atoi(dims[0])
	h, _ := strconv.Atoi(dims[1])
	return w, h
}

func archiveThumbnail(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxArchiveSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	if len(data) > maxArchiveSize {
		return nil, fmt.Errorf("archive larger than %d bytes", maxArchiveSize)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", ErrThumbnailNotFound, err)
	}

	for _, want := range archiveThumbnails {
		for _, f := range zr.File {
			if f.Name != want {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", want, err)
			}
			img, err := png.Decode(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrThumbnailNotFound, want, err)
			}
			return img, nil
		}
	}
	return nil, ErrThumbnailNotFound
}

// encodeThumbnail scales img to 32x32 and encodes it as PNG
func encodeThumbnail(img image.Image) (printer.Thumbnail, error) {
	dst := image.NewRGBA(image.Rect(0, 0, thumbnailSize, thumbnailSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return printer.Thumbnail{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return printer.Thumbnail{PNG: buf.Bytes()}, nil
}
