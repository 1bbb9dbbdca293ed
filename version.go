package snsgw

// Version number
var Version = "current"
