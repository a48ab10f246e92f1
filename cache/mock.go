package cache

// mockMode 表示Redis不可用，依赖Redis的功能退化为进程内实现
var mockMode bool
