// Package sprite packs object thumbnails into a single JPEG atlas addressed
// by media fragments.
package sprite
