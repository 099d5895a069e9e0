// Package artifact computes the deterministic artifact names §4.6
// defines: every name is derived from (track_id, media_type,
// segment_number, chunk_number, stream_key), mixing in the per-stream
// random key so successive runs of the same stream name never collide
// in a shared cache or CDN.
package artifact

import "fmt"

// Init names the init_<tid>_<type>_<key>_llhls.m4s artifact.
func Init(trackID int32, mediaType, streamKey string) string {
	return fmt.Sprintf("init_%d_%s_%s_llhls.m4s", trackID, mediaType, streamKey)
}

// Segment names the seg_<tid>_<n>_<type>_<key>_llhls.m4s artifact.
func Segment(trackID int32, n int64, mediaType, streamKey string) string {
	return fmt.Sprintf("seg_%d_%d_%s_%s_llhls.m4s", trackID, n, mediaType, streamKey)
}

// Partial names the part_<tid>_<n>_<k>_<type>_<key>_llhls.m4s artifact.
func Partial(trackID int32, n, k int64, mediaType, streamKey string) string {
	return fmt.Sprintf("part_%d_%d_%d_%s_%s_llhls.m4s", trackID, n, k, mediaType, streamKey)
}

// Chunklist names the chunklist_<tid>_<type>_<key>_llhls.m3u8 artifact.
func Chunklist(trackID int32, mediaType, streamKey string) string {
	return fmt.Sprintf("chunklist_%d_%s_%s_llhls.m3u8", trackID, mediaType, streamKey)
}
