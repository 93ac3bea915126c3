package adbproto

// Feature is an optional feature advertised in a host:features/
// host:host-features reply.
type Feature string

// Features as of version 41 (2025-03-25).
//
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/transport.cpp;l=81-105;drc=2d3e62c2af54a3e8f8803ea10492e63b8dfe709f
const (
	FeatureShell2                    Feature = "shell_v2"
	FeatureCmd                       Feature = "cmd"
	FeatureStat2                     Feature = "stat_v2"
	FeatureLs2                       Feature = "ls_v2"
	FeatureLibusb                    Feature = "libusb"
	FeaturePushSync                  Feature = "push_sync"
	FeatureApex                      Feature = "apex"
	FeatureFixedPushMkdir            Feature = "fixed_push_mkdir"
	FeatureAbb                       Feature = "abb"
	FeatureFixedPushSymlinkTimestamp Feature = "fixed_push_symlink_timestamp"
	FeatureAbbExec                   Feature = "abb_exec"
	FeatureRemountShell              Feature = "remount_shell"
	FeatureTrackApp                  Feature = "track_app"
	FeatureSendRecv2                 Feature = "sendrecv_v2"
	FeatureSendRecv2Brotli           Feature = "sendrecv_v2_brotli"
	FeatureSendRecv2LZ4              Feature = "sendrecv_v2_lz4"
	FeatureSendRecv2Zstd             Feature = "sendrecv_v2_zstd"
	FeatureSendRecv2DryRunSend       Feature = "sendrecv_v2_dry_run_send"
	FeatureDelayedAck                Feature = "delayed_ack"
	FeatureOpenscreenMdns            Feature = "openscreen_mdns"
	FeatureDeviceTrackerProtoFormat  Feature = "devicetracker_proto_format"
	FeatureDevRaw                    Feature = "devraw"
	FeatureAppInfo                   Feature = "app_info"      // adds package name etc. to track-app
	FeatureServerStatus              Feature = "server_status" // ability to report server status
)
