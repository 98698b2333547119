// Package scan owns the planar range-scan and point-cloud data model.
//
// Responsibilities: the RangeScan record delivered by a rotating
// rangefinder, the PointCloud produced from it, header validation, and the
// scan window (the time interval spanned by the rays of one sweep).
// Key types: RangeScan, PointCloud, Point.
//
// Dependency rule: scan depends on nothing else in internal/lidar.
package scan
