// Package drm provides access to the Linux kernel mode-setting (KMS) interface
//
// A [Card] is opened on a DRM device node, typically /dev/dri/card[0..x], and exposes the
// requests needed to drive a simple linear framebuffer: resource, connector, encoder and
// controller (CRTC) queries, dumb buffer allocation and mapping, framebuffer registration
// and controller configuration.
//
// On operating systems other than Linux, [Open] returns [ErrNotSupported].
package drm
