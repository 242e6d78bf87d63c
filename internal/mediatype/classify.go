// Copyright 2024 Mediatheque Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mediatype maps sniffed content types and filenames to the coarse
// media classes the rest of the engine keys on. Classification is pure:
// no I/O, no state, same inputs always give the same answer.
package mediatype

import (
	"path"
	"strings"
)

// Class is the coarse media class used for UI grouping and handling rules.
type Class string

const (
	ClassImage    Class = "image"
	ClassDocument Class = "document"
	ClassAudio    Class = "audio"
	ClassVideo    Class = "video"
	ClassArchive  Class = "archive"
	ClassOther    Class = "other"
)

// canonicalExt maps exact content types to their canonical extension.
// Types absent here fall back to the major-type rules in Classify.
var canonicalExt = map[string]struct {
	class Class
	ext   string
}{
	"image/jpeg":    {ClassImage, "jpg"},
	"image/png":     {ClassImage, "png"},
	"image/gif":     {ClassImage, "gif"},
	"image/webp":    {ClassImage, "webp"},
	"image/svg+xml": {ClassImage, "svg"},
	"image/bmp":     {ClassImage, "bmp"},
	"image/tiff":    {ClassImage, "tiff"},

	"application/pdf":    {ClassDocument, "pdf"},
	"application/msword": {ClassDocument, "doc"},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {ClassDocument, "docx"},
	"application/vnd.ms-excel": {ClassDocument, "xls"},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       {ClassDocument, "xlsx"},
	"application/vnd.ms-powerpoint":                                           {ClassDocument, "ppt"},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {ClassDocument, "pptx"},
	"application/vnd.oasis.opendocument.text": {ClassDocument, "odt"},
	"application/rtf": {ClassDocument, "rtf"},
	"text/plain":      {ClassDocument, "txt"},
	"text/csv":        {ClassDocument, "csv"},
	"text/html":       {ClassDocument, "html"},
	"text/markdown":   {ClassDocument, "md"},

	"audio/mpeg": {ClassAudio, "mp3"},
	"audio/ogg":  {ClassAudio, "ogg"},
	"audio/wav":  {ClassAudio, "wav"},
	"audio/flac": {ClassAudio, "flac"},
	"audio/aac":  {ClassAudio, "aac"},
	"audio/mp4":  {ClassAudio, "m4a"},

	"video/mp4":        {ClassVideo, "mp4"},
	"video/mpeg":       {ClassVideo, "mpg"},
	"video/webm":       {ClassVideo, "webm"},
	"video/quicktime":  {ClassVideo, "mov"},
	"video/x-matroska": {ClassVideo, "mkv"},
	"video/x-msvideo":  {ClassVideo, "avi"},

	"application/zip":              {ClassArchive, "zip"},
	"application/gzip":             {ClassArchive, "gz"},
	"application/x-tar":            {ClassArchive, "tar"},
	"application/x-7z-compressed":  {ClassArchive, "7z"},
	"application/x-rar-compressed": {ClassArchive, "rar"},
	"application/vnd.rar":          {ClassArchive, "rar"},
	"application/x-bzip2":          {ClassArchive, "bz2"},
	"application/zstd":             {ClassArchive, "zst"},
}

// Classify resolves a filename and a sniffed content type to a media class
// and a canonical extension. The sniffed type is authoritative; the filename
// extension is advisory only and is never trusted for anything beyond filling
// in an extension when the sniffed type has no canonical one.
func Classify(filename, sniffedType string) (Class, string) {
	ct := normalizeType(sniffedType)

	if entry, ok := canonicalExt[ct]; ok {
		return entry.class, entry.ext
	}

	class := classFromMajorType(ct)
	if ext := extFromName(filename); ext != "" {
		return class, ext
	}
	return class, ""
}

// normalizeType lowercases a content type and drops parameters such as
// "; charset=utf-8".
func normalizeType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func classFromMajorType(ct string) Class {
	switch {
	case strings.HasPrefix(ct, "image/"):
		return ClassImage
	case strings.HasPrefix(ct, "audio/"):
		return ClassAudio
	case strings.HasPrefix(ct, "video/"):
		return ClassVideo
	case strings.HasPrefix(ct, "text/"):
		return ClassDocument
	default:
		return ClassOther
	}
}

func extFromName(filename string) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	return strings.ToLower(ext)
}

// AllowList is a closed set of media classes an ingestion policy permits.
// An empty list permits everything.
type AllowList []Class

// Allows reports whether the class passes the policy.
func (a AllowList) Allows(c Class) bool {
	if len(a) == 0 {
		return true
	}
	for _, allowed := range a {
		if allowed == c {
			return true
		}
	}
	return false
}
