package client

// Version is the client implementation version reported during initialize.
const Version = "0.1.0"
