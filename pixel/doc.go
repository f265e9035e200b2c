// Package pixel implements the pixel formats used by KMS dumb buffers.
//
// This module provides additional color models, compatible with Go's native [color.Color] and
// [image.Image] / [draw.Image] interfaces, that can be laid over memory mapped from the kernel.
package pixel
